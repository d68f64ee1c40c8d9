package transport

import "github.com/pkg/errors"

// ErrUnknownHandle 句柄未连接或已断开
var ErrUnknownHandle = errors.New("unknown handle")

// ErrChannelNotRegistered 在未注册的通道上发送
var ErrChannelNotRegistered = errors.New("channel not registered")

// ErrAlreadyRegistered 通道重复注册
var ErrAlreadyRegistered = errors.New("channel already registered")

// ErrBufferFull 连接的出站队列已满
var ErrBufferFull = errors.New("packet buffer full")

// ErrClosed 传输或连接已关闭
var ErrClosed = errors.New("transport closed")

// ErrNoListener 拨号地址上没有监听者
var ErrNoListener = errors.New("no listener on address")

// ErrAddrInUse 地址已被监听
var ErrAddrInUse = errors.New("address already in use")

// ErrUnsupportedMode 传输不支持该投递模式
var ErrUnsupportedMode = errors.New("unsupported delivery mode")
