package client

import "github.com/pkg/errors"

// ErrDisconnected 与服务端的连接已断开
var ErrDisconnected = errors.New("disconnected from server")
