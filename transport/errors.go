package transport

import "errors"

var errNotConnected = errors.New("transport: not connected")
