package err

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// 错误分类码
// GuardRejected 不在这里：防抖拒绝是保护性空操作，只记日志，永不作为错误返回
const (
	CodeOK          = 0
	CodeInternal    = 1000
	CodeAuth        = 1001 // 会话过期或在别处登录，提示重新认证
	CodeValidation  = 1002 // 非法状态/缺参数，原样返回给调用方
	CodeConcurrency = 1003 // 拿锁超时，提示稍后重试
	CodeNotFound    = 1004 // 通常会自愈（自动建默认行），很少直接返回
)

var codeMessage = map[int]string{
	CodeOK:          "ok",
	CodeInternal:    "internal_error",
	CodeAuth:        "auth_required",
	CodeValidation:  "bad_parameter",
	CodeConcurrency: "retry_later",
	CodeNotFound:    "not_found",
}

// Error 带分类码的错误，贯穿引擎各层
type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func Auth(msg string) error        { return &Error{Code: CodeAuth, Msg: msg} }
func Validation(msg string) error  { return &Error{Code: CodeValidation, Msg: msg} }
func Concurrency(msg string) error { return &Error{Code: CodeConcurrency, Msg: msg} }
func NotFound(msg string) error    { return &Error{Code: CodeNotFound, Msg: msg} }

// CodeOf 取出分类码，非本包错误一律按内部错误处理
func CodeOf(e error) int {
	var ae *Error
	if errors.As(e, &ae) {
		return ae.Code
	}
	return CodeInternal
}

func IsAuth(e error) bool        { return CodeOf(e) == CodeAuth }
func IsConcurrency(e error) bool { return CodeOf(e) == CodeConcurrency }

// OK 写入统一的成功响应
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:      CodeOK,
		Message:   codeMessage[CodeOK],
		Data:      data,
		RequestID: c.GetString("request_id"),
	})
}

// Fail 按分类码写入统一的错误响应
func Fail(c *gin.Context, e error) {
	code := CodeOf(e)
	c.JSON(httpStatusFromCode(code), Response{
		Code:      code,
		Message:   e.Error(),
		RequestID: c.GetString("request_id"),
	})
}

func httpStatusFromCode(code int) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeValidation:
		return http.StatusBadRequest
	case CodeAuth:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConcurrency:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
