package isotp

import "errors"

var (
	ErrEmpty                 = errors.New("isotp: empty message")
	ErrBusy                  = errors.New("isotp: transmission already in progress")
	ErrMessageTooLong        = errors.New("isotp: message exceeds maximum length")
	ErrInvalidFrame          = errors.New("isotp: invalid frame")
	ErrWrongSequence         = errors.New("isotp: wrong sequence number in consecutive frame")
	ErrTimeout               = errors.New("isotp: consecutive frame not received in time")
	ErrFlowControlTimeout    = errors.New("isotp: flow control not received in time")
	ErrOverflow              = errors.New("isotp: peer reported overflow")
	ErrWaitLimit             = errors.New("isotp: maximum wait flow control frames reached")
	ErrUnexpectedFlowControl = errors.New("isotp: unexpected flow control frame")
	ErrUnexpectedConsecutive = errors.New("isotp: unexpected consecutive frame")
	ErrReceptionInterrupted  = errors.New("isotp: reception interrupted by a new message")
)
