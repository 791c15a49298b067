package cipher

// EncryptionTag binds a ciphertext to the purpose it was produced for.
// The tag is fed to the AEAD as additional authenticated data and is never
// stored in the output.
type EncryptionTag string

const (
	TagNone         EncryptionTag = ""
	TagItemKey      EncryptionTag = "itemkey"
	TagItemContent  EncryptionTag = "itemcontent"
	TagItemTitle    EncryptionTag = "itemtitle"
	TagItemNote     EncryptionTag = "itemnote"
	TagVaultContent EncryptionTag = "vaultcontent"
	TagShareKey     EncryptionTag = "sharekey"
	TagMasterKey    EncryptionTag = "masterkey"
)

// AAD returns the additional authenticated data for the tag, nil for TagNone.
func (t EncryptionTag) AAD() []byte {
	if t == TagNone {
		return nil
	}
	return []byte(t)
}

func (t EncryptionTag) String() string {
	if t == TagNone {
		return "none"
	}
	return string(t)
}
