package middlewares

const (
	CtxRequestID = "request_id"
	CtxCaller    = "session.caller"
)
