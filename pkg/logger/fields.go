package logger

// 统一的日志字段命名常量
// 用于确保整个项目中日志字段命名的一致性，便于日志查询和分析
// Key material never goes into a field.
const (
	// FieldTraceID 追踪 ID 字段
	FieldTraceID = "traceId"

	// FieldShareID 保险库 ID 字段
	FieldShareID = "shareId"

	// FieldItemID 条目 ID 字段
	FieldItemID = "itemId"

	// FieldRotation 密钥轮换号字段
	FieldRotation = "rotation"

	// FieldRevision 条目版本字段
	FieldRevision = "revision"

	// FieldCursor 事件游标字段
	FieldCursor = "cursor"

	// FieldState 同步状态字段
	FieldState = "state"

	// FieldCount 数量字段
	FieldCount = "count"

	// FieldDuration 耗时字段
	FieldDuration = "duration"

	// FieldMethod 方法名称字段
	FieldMethod = "method"

	// FieldPath 请求路径字段
	FieldPath = "path"

	// FieldStatus HTTP 状态码字段
	FieldStatus = "status"

	// FieldBucket 存储桶名称字段
	FieldBucket = "bucket"

	// FieldFileKey 文件键字段
	FieldFileKey = "fileKey"
)
