package rekognition

// Config selects the Rekognition endpoint
type Config struct {
	Region string
	// Endpoint overrides the regional endpoint (LocalStack); empty uses AWS
	Endpoint string
}

// DefaultConfig returns a Config with default values
func DefaultConfig() Config {
	return Config{
		Region: "us-east-1",
	}
}
