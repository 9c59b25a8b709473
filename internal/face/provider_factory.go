package face

import (
	"context"
	"fmt"

	"github.com/saturnino-fabrica-de-software/derma/internal/config"
	"github.com/saturnino-fabrica-de-software/derma/internal/imaging"
	"github.com/saturnino-fabrica-de-software/derma/internal/provider"
	"github.com/saturnino-fabrica-de-software/derma/internal/provider/deepface"
	"github.com/saturnino-fabrica-de-software/derma/internal/provider/local"
	"github.com/saturnino-fabrica-de-software/derma/internal/provider/rekognition"
)

// ProviderType defines supported detector and embedding backends
type ProviderType string

const (
	// ProviderTypeLocal is the pure-Go backend, no external service needed
	ProviderTypeLocal ProviderType = "local"
	// ProviderTypeDeepFace is the DeepFace HTTP service
	ProviderTypeDeepFace ProviderType = "deepface"
	// ProviderTypeRekognition is AWS Rekognition (detection only)
	ProviderTypeRekognition ProviderType = "rekognition"
)

// Providers is the resolved detector/embedder pair. When both use DeepFace
// they share one client so the circuit breaker sees all traffic.
type Providers struct {
	Detector provider.FaceDetector
	Embedder provider.EmbeddingBackend
	DeepFace *deepface.Client
}

// NewProviders creates the detector and embedding backend selected by
// DETECTOR_TYPE and EMBEDDING_BACKEND.
func NewProviders(ctx context.Context, cfg *config.Config) (*Providers, error) {
	p := &Providers{}

	var err error
	p.Detector, err = p.newDetector(ctx, cfg)
	if err != nil {
		return nil, err
	}

	p.Embedder, err = p.newEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Providers) newDetector(ctx context.Context, cfg *config.Config) (provider.FaceDetector, error) {
	switch ProviderType(cfg.DetectorType) {
	case ProviderTypeLocal, "":
		return local.NewDetector(), nil

	case ProviderTypeDeepFace:
		return deepface.NewDetector(p.deepFaceClient(cfg)), nil

	case ProviderTypeRekognition:
		api, err := rekognition.NewAPI(ctx, rekognition.Config{Region: cfg.AWSRegion, Endpoint: cfg.AWSEndpoint})
		if err != nil {
			return nil, fmt.Errorf("create rekognition detector: %w", err)
		}
		return rekognition.NewDetector(api), nil

	default:
		return nil, fmt.Errorf("unknown provider type: %s (supported: %s, %s, %s)",
			cfg.DetectorType, ProviderTypeLocal, ProviderTypeDeepFace, ProviderTypeRekognition)
	}
}

func (p *Providers) newEmbedder(cfg *config.Config) (provider.EmbeddingBackend, error) {
	switch ProviderType(cfg.EmbeddingBackend) {
	case ProviderTypeLocal, "":
		return local.NewEmbedder(), nil

	case ProviderTypeDeepFace:
		return deepface.NewEmbedder(p.deepFaceClient(cfg)), nil

	default:
		return nil, fmt.Errorf("unknown provider type: %s (supported: %s, %s)",
			cfg.EmbeddingBackend, ProviderTypeLocal, ProviderTypeDeepFace)
	}
}

func (p *Providers) deepFaceClient(cfg *config.Config) *deepface.Client {
	if p.DeepFace != nil {
		return p.DeepFace
	}

	dfConfig := deepface.DefaultConfig()
	if cfg.DeepFace.URL != "" {
		dfConfig.BaseURL = cfg.DeepFace.URL
	}
	if cfg.DeepFace.Timeout > 0 {
		dfConfig.Timeout = cfg.DeepFace.Timeout
	}
	if cfg.DeepFace.Model != "" {
		dfConfig.Model = cfg.DeepFace.Model
	}
	if cfg.DeepFace.Detector != "" {
		dfConfig.Detector = cfg.DeepFace.Detector
	}
	dfConfig.RetryCount = cfg.DeepFace.RetryCount

	p.DeepFace = deepface.NewClient(dfConfig)
	return p.DeepFace
}

// LocatorConfig maps environment configuration onto the locator policy
func LocatorConfig(cfg *config.Config) Config {
	return Config{
		MinConfidence:    cfg.Locator.MinConfidence,
		MinFaceAreaRatio: cfg.Locator.MinFaceAreaRatio,
		Limits: imaging.Limits{
			MaxBytes:     cfg.Image.MaxBytes,
			MaxDimension: cfg.Image.MaxDimension,
		},
	}
}
