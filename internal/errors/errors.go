package errors

import (
	stdErrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Code 表示模块运行时内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于日志与生命周期审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
}

const (
	CodeUnknown              Code = "UNKNOWN"
	CodeInvalidArgument      Code = "INVALID_ARGUMENT"
	CodeUnknownRole          Code = "UNKNOWN_ROLE"
	CodeDirectoryUnreadable  Code = "DIRECTORY_UNREADABLE"
	CodeManifestMissing      Code = "MANIFEST_MISSING"
	CodeManifestIncomplete   Code = "MANIFEST_INCOMPLETE"
	CodeInvalidRole          Code = "INVALID_ROLE"
	CodeEntryPointUnreadable Code = "ENTRY_POINT_UNREADABLE"
	CodeCodeLoad             Code = "CODE_LOAD"
	CodeStructureInvalid     Code = "STRUCTURE_INVALID"
	CodeInitialization       Code = "INITIALIZATION"
	CodeModuleLoad           Code = "MODULE_LOAD"
	CodeStorageFailure       Code = "STORAGE_FAILURE"
	CodePublishFailure       Code = "PUBLISH_FAILURE"
)

var (
	registryMu sync.RWMutex
	// 模块相关错误码均不可重试。
	registry = map[Code]Attributes{
		CodeUnknown:              {Message: "unknown error", Severity: SeverityCritical},
		CodeInvalidArgument:      {Message: "invalid argument", Severity: SeverityInfo},
		CodeUnknownRole:          {Message: "unknown module role", Severity: SeverityWarning},
		CodeDirectoryUnreadable:  {Message: "module directory unreadable", Severity: SeverityCritical},
		CodeManifestMissing:      {Message: "module manifest missing", Severity: SeverityWarning},
		CodeManifestIncomplete:   {Message: "module manifest incomplete", Severity: SeverityWarning},
		CodeInvalidRole:          {Message: "invalid module role", Severity: SeverityWarning},
		CodeEntryPointUnreadable: {Message: "module entry point unreadable", Severity: SeverityWarning},
		CodeCodeLoad:             {Message: "module code could not be loaded", Severity: SeverityWarning},
		CodeStructureInvalid:     {Message: "module structure invalid", Severity: SeverityWarning},
		CodeInitialization:       {Message: "module initialization failed", Severity: SeverityCritical},
		CodeModuleLoad:           {Message: "module load failed", Severity: SeverityCritical},
		CodeStorageFailure:       {Message: "storage failure", Severity: SeverityCritical, Retryable: true},
		CodePublishFailure:       {Message: "event publish failure", Severity: SeverityWarning, Retryable: true},
	}
)

// Register 允许宿主在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是运行时内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
	severity  *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息，例如模块名或候选目录。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRetryable 指定错误是否可重试。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息（不含 cause）。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// MetadataValue 返回单个附加信息。
func (e *Error) MetadataValue(key string) string {
	if e == nil {
		return ""
	}
	return e.metadata[key]
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// MetadataString 以 key=value 形式展开附加信息，便于写入结构化日志。
func (e *Error) MetadataString() string {
	if e == nil || len(e.metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.metadata))
	for k := range e.metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+e.metadata[k])
	}
	return strings.Join(parts, " ")
}

// From 尝试从 error 中解析统一错误类型（最外层）。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}

// RootCode 返回错误链中最内层统一错误的错误码，用于区分被 MODULE_LOAD 包裹的具体原因。
func RootCode(err error) Code {
	code := CodeUnknown
	for err != nil {
		if e, ok := err.(*Error); ok {
			code = e.Code()
		}
		err = stdErrors.Unwrap(err)
	}
	return code
}
