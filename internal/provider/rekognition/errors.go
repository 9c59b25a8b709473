package rekognition

import "errors"

var (
	// ErrInvalidCredentials indicates that AWS credentials are invalid or missing
	ErrInvalidCredentials = errors.New("invalid or missing AWS credentials")

	// ErrRekognitionUnavailable indicates a throttled or failing Rekognition endpoint
	ErrRekognitionUnavailable = errors.New("rekognition service unavailable")
)
