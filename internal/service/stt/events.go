package stt

// EventKind 标识识别连接产生的内部事件类型。
type EventKind int

const (
	// Opened 连接建立，服务端已就绪。
	Opened EventKind = iota
	// Partial 当前话轮的中间转写结果。
	Partial
	// Final 一个话轮结束时的完整转写结果。
	Final
	// Failed 连接或协议错误，连接在重新配置前视为失效。
	Failed
	// Closed 连接正常关闭。
	Closed
)

// Event 是厂商消息翻译后的内部事件，桥接层只做翻译不做重连。
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Handler 接收某个会话识别连接上的事件，调用发生在连接的读协程上。
type Handler func(Event)
