package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"retro-improver-backend/internal/artifact"
	"retro-improver-backend/internal/jobs"
)

type videoInstance struct {
	Prompt string `json:"prompt"`
	Image  struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MimeType           string `json:"mimeType"`
	} `json:"image"`
}

type videoParameters struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	SampleCount int    `json:"sampleCount,omitempty"`
}

type predictRequest struct {
	Instances  []videoInstance `json:"instances"`
	Parameters videoParameters `json:"parameters"`
}

type operation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
			RaiMediaFilteredReasons []string `json:"raiMediaFilteredReasons,omitempty"`
		} `json:"generateVideoResponse"`
	} `json:"response,omitempty"`
}

// StartVideo implements jobs.VideoGenerator. It returns the operation name.
func (c *Client) StartVideo(ctx context.Context, image []byte, mimeType, prompt string) (string, error) {
	instance := videoInstance{Prompt: prompt}
	instance.Image.BytesBase64Encoded = base64.StdEncoding.EncodeToString(image)
	instance.Image.MimeType = mimeOrDefault(image, mimeType)

	req := predictRequest{
		Instances:  []videoInstance{instance},
		Parameters: videoParameters{SampleCount: 1},
	}

	var op operation
	if err := c.do(ctx, http.MethodPost, c.modelURL(c.videoModel, "predictLongRunning"), req, &op); err != nil {
		return "", err
	}
	if op.Name == "" {
		return "", fmt.Errorf("%w: operation has no name", jobs.ErrMalformedResponse)
	}
	return op.Name, nil
}

// VideoStatus implements jobs.VideoGenerator. A finished operation has its
// video downloaded, since the file URI needs the API key.
func (c *Client) VideoStatus(ctx context.Context, name string) (jobs.VideoOperation, error) {
	var op operation
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/"+name, nil, &op); err != nil {
		return jobs.VideoOperation{}, err
	}
	if !op.Done {
		return jobs.VideoOperation{}, nil
	}

	if op.Error != nil {
		return jobs.VideoOperation{
			Done: true,
			Err:  fmt.Errorf("%w: operation failed: %d %s", jobs.ErrProviderUnavailable, op.Error.Code, op.Error.Message),
		}, nil
	}
	if op.Response == nil || len(op.Response.GenerateVideoResponse.GeneratedSamples) == 0 {
		reason := "no samples"
		if op.Response != nil && len(op.Response.GenerateVideoResponse.RaiMediaFilteredReasons) > 0 {
			reason = op.Response.GenerateVideoResponse.RaiMediaFilteredReasons[0]
		}
		return jobs.VideoOperation{Done: true, Err: fmt.Errorf("%w: %s", jobs.ErrMalformedResponse, reason)}, nil
	}

	uri := op.Response.GenerateVideoResponse.GeneratedSamples[0].Video.URI
	if uri == "" {
		return jobs.VideoOperation{Done: true}, nil
	}

	data, contentType, err := c.download(ctx, uri)
	if err != nil {
		return jobs.VideoOperation{}, err
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = "video/mp4"
	}

	c.log.Info("video downloaded", "operation", name, "bytes", len(data))
	return jobs.VideoOperation{
		Done:  true,
		Video: &artifact.Payload{Data: data, MimeType: contentType},
	}, nil
}
