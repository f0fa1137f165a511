// Package detector is the HTTP client for the face embedding server. It
// posts images to /embed/face and converts the reply into validated
// facematch.DetectedFace values.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/khoj/internal/facematch"
)

const defaultURL = "http://localhost:8000"

// duplicateIoU is the overlap above which two detections are the same face.
const duplicateIoU = 0.8

// ErrInvalidResponse is returned when the server reply cannot be used.
var ErrInvalidResponse = errors.New("invalid detector response")

// Client talks to the embedding server.
type Client struct {
	baseURL string
	client  *http.Client
	dim     int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithDim rejects embeddings whose length differs from dim.
func WithDim(dim int) Option {
	return func(c *Client) { c.dim = dim }
}

// New creates a client for baseURL with the given request timeout.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultURL
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// faceDetection represents a single detected face
type faceDetection struct {
	FaceIndex int         `json:"face_index"`
	Dim       int         `json:"dim"`
	Embedding []float32   `json:"embedding"`
	BBox      []float64   `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64     `json:"det_score"`
	Landmarks [][]float64 `json:"landmarks"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Detect sends image to the server and returns every face it found.
// An image without faces yields facematch.ErrNoFaceDetected.
func (c *Client) Detect(ctx context.Context, image []byte) ([]facematch.DetectedFace, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", facematch.ErrInvalidFace)
	}

	body, err := c.postMultipartImage(ctx, "/embed/face", image)
	if err != nil {
		return nil, err
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if len(resp.Faces) == 0 {
		return nil, facematch.ErrNoFaceDetected
	}

	faces := make([]facematch.DetectedFace, 0, len(resp.Faces))
	for i, fd := range resp.Faces {
		face, err := c.convert(fd)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		faces = append(faces, face)
	}
	return facematch.DedupeOverlapping(faces, duplicateIoU), nil
}

func (c *Client) convert(fd faceDetection) (facematch.DetectedFace, error) {
	if len(fd.BBox) != 4 {
		return facematch.DetectedFace{}, fmt.Errorf("%w: bbox has %d values", ErrInvalidResponse, len(fd.BBox))
	}
	if fd.Dim > 0 && fd.Dim != len(fd.Embedding) {
		return facematch.DetectedFace{}, fmt.Errorf("%w: dim %d but %d embedding values", ErrInvalidResponse, fd.Dim, len(fd.Embedding))
	}

	face := facematch.DetectedFace{
		BoundingBox: facematch.BoundingBox{fd.BBox[0], fd.BBox[1], fd.BBox[2], fd.BBox[3]},
		Embedding:   fd.Embedding,
		DetScore:    fd.DetScore,
	}
	if len(fd.Landmarks) > 0 {
		face.Landmarks = make([]facematch.Point, len(fd.Landmarks))
		for i, p := range fd.Landmarks {
			if len(p) < 2 {
				return facematch.DetectedFace{}, fmt.Errorf("%w: landmark %d has %d coordinates", ErrInvalidResponse, i, len(p))
			}
			face.Landmarks[i] = facematch.Point{X: p[0], Y: p[1]}
		}
	}
	if err := face.Validate(c.dim); err != nil {
		return facematch.DetectedFace{}, err
	}
	return face, nil
}

// Ping checks that the server answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detector unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
// The part carries a Content-Type header based on magic byte detection.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image"`)
	h.Set("Content-Type", DetectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// DetectMIMEType detects the MIME type from image data
func DetectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// BMP: 42 4D
	if data[0] == 0x42 && data[1] == 0x4D {
		return "image/bmp"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}
