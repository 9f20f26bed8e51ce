package state

var (
	intentRegistryPrefix = []byte("intent/consumed/")
	rolePrefix           = []byte("auth/roles/")
	sequencePrefix       = []byte("seq/")
)
