package domain

// Share 共享保险库
type Share struct {
	ID string
	// VaultContent is the vault metadata sealed under ContentKeyRotation's share key.
	VaultContent       []byte
	ContentKeyRotation int64
	Owner              bool
	CreateTime         int64
	// LastEventID is the event cursor applied locally, empty before the first full sync.
	LastEventID string
}

// ShareKey 保险库轮换密钥
// WrappedKey is sealed under the local master key with the sharekey tag.
type ShareKey struct {
	ShareID    string
	Rotation   int64
	WrappedKey []byte
	CreateTime int64
}

// ItemKey 条目专属密钥
// WrappedKey is sealed under the share key of the same rotation with the itemkey tag.
type ItemKey struct {
	ShareID    string
	ItemID     string
	Rotation   int64
	WrappedKey []byte
	CreateTime int64
}

// RemoteShareKey 远端下发的保险库密钥，尚未用本地主密钥重新包装
type RemoteShareKey struct {
	ShareID    string
	Rotation   int64
	Key        string
	CreateTime int64
}

// ShareEvents 自某一游标之后的增量事件
type ShareEvents struct {
	LastEventID    string
	UpdatedItems   []*EncryptedItem
	DeletedItemIDs []string
	KeysRotated    bool
	// More reports whether further event pages remain after LastEventID.
	More bool
}
