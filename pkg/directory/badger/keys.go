package badger

// docKey namespaces every directory entry under a "doc:" prefix, following
// the teacher's self-documenting key-schema convention (see its
// pkg/store/metadata/badger/keys.go).
func docKey(docID string) []byte {
	return append([]byte("doc:"), []byte(docID)...)
}
