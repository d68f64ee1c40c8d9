package protocol

import "github.com/pkg/errors"

// ErrMalformed 负载无法解码
var ErrMalformed = errors.New("malformed payload")

// ErrUnknownKind 消息类型与所在通道不符
var ErrUnknownKind = errors.New("unknown message kind")

// ErrUnknownChannel 协议之外的通道号
var ErrUnknownChannel = errors.New("unknown channel")

// ErrTooLarge 负载超过 MaxPayloadSize
var ErrTooLarge = errors.New("payload too large")
