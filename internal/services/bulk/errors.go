package bulk

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrInvalidSettings   = errors.New("invalid job settings")
)

type CreateErrorCode string

const (
	CodeInvalidArchive CreateErrorCode = "invalid_archive"
	CodeZipBombFiles   CreateErrorCode = "zip_bomb_files"
	CodeZipBombBytes   CreateErrorCode = "zip_bomb_bytes"
	CodeNoValidImages  CreateErrorCode = "no_valid_images"
	CodeNoSubjects     CreateErrorCode = "no_subjects"
	CodeStaging        CreateErrorCode = "staging_failed"
)

// CreateError is a hard job-creation failure. No job or item exists when it is returned.
type CreateError struct {
	Code CreateErrorCode
	Err  error
}

func (e *CreateError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *CreateError) Unwrap() error { return e.Err }

func createErr(code CreateErrorCode, err error) error {
	return &CreateError{Code: code, Err: err}
}

// CreateErrorCodeOf returns the code of a CreateError in err's chain, or "".
func CreateErrorCodeOf(err error) CreateErrorCode {
	var ce *CreateError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
