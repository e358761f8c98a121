package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrRoomClosed  = fmt.Errorf("room is closed")
)
