package answers

import "errors"

// ErrDuplicateSubmission is returned when an answer already exists for the
// (player, session, question) triple. Callers must surface it as "already
// answered", never retry with a different answer.
var ErrDuplicateSubmission = errors.New("answer already submitted")

// ErrSubmissionFailed is returned when neither the atomic path nor the
// degraded fallback could record the answer.
var ErrSubmissionFailed = errors.New("answer submission failed")

// ErrInvalidRequest wraps request-validation failures so transports can
// distinguish caller mistakes from store failures.
var ErrInvalidRequest = errors.New("invalid request")
