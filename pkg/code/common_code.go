package code

var (
	// Crypto 加密
	ErrorAuthenticationFailure = NewError(4001, "authentication failure: ciphertext does not verify under this key and tag")
	ErrorInvalidCiphertext     = NewError(4002, "invalid ciphertext")
	ErrorInvalidKey            = NewError(4003, "invalid key material")
	ErrorContextClosed         = NewError(4004, "encryption context is closed")
	ErrorMasterKeyUnavailable  = NewError(4005, "master key unavailable")

	// Key hierarchy 密钥层级
	ErrorMissingRotationKey = NewError(4101, "no local key for item rotation, key cache has not caught up")
	ErrorShareKeyNotFound   = NewError(4102, "share has no keys")

	// Local cache 本地缓存
	ErrorItemNotFound     = NewError(4201, "item not found in local cache")
	ErrorShareNotFound    = NewError(4202, "share not found in local cache")
	ErrorRevisionConflict = NewError(4203, "revision conflict, item was modified remotely")

	// Remote 远端
	ErrorNetworkFailure  = NewError(5001, "network failure")
	ErrorRemoteRejected  = NewError(5002, "remote rejected request")
	ErrorInvalidResponse = NewError(5003, "invalid remote response")
	ErrorTokenExpired    = NewError(5004, "access token expired, log in again")
	ErrorNotConfigured   = NewError(5005, "remote is not configured")
	ErrorInvalidConfig   = NewError(5006, "invalid configuration")

	// Sync 同步
	ErrorSyncFailure    = NewError(5101, "sync failed")
	ErrorSyncInProgress = NewError(5102, "sync already in progress")
	ErrorSyncIncomplete = NewError(5103, "share sync incomplete, remote has more to apply")

	// Storage 存储
	ErrorInvalidStorageType = NewError(5201, "invalid storage type")
	ErrorBackupFailure      = NewError(5202, "backup failed")
)
