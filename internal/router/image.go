package router

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"shelterbot/internal/classifier"
	"shelterbot/internal/domain"
	"shelterbot/internal/provider"
	"shelterbot/internal/reply"
)

// imageTimeout matches the webhook server's write timeout.
const imageTimeout = 2 * time.Minute

// imagePipeline fetches, classifies and publishes one image message.
// Concurrent runs for the same media id share a single execution.
type imagePipeline struct {
	content    ContentSaver
	classifier classifier.Classifier
	staticDir  string
	baseURL    string
	timeout    time.Duration // bounds a shared run, which outlives any one request
	inflight   singleflight.Group
}

type imageResult struct {
	fragment domain.ImageFragment
	label    string
}

func (p *imagePipeline) run(ctx context.Context, mediaID string) (domain.ImageFragment, string, error) {
	if !provider.ValidMediaID(mediaID) {
		return domain.ImageFragment{}, "", domain.NewPipelineError("fetch", mediaID,
			fmt.Errorf("%w: invalid media id", domain.ErrFetch))
	}

	// The shared run is detached from the first caller so its cancellation
	// does not fail the other waiters. Each caller still honours its own ctx.
	ch := p.inflight.DoChan(mediaID, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return p.process(runCtx, mediaID)
	})
	select {
	case <-ctx.Done():
		return domain.ImageFragment{}, "", ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return domain.ImageFragment{}, "", r.Err
		}
		res := r.Val.(imageResult)
		return res.fragment, res.label, nil
	}
}

func (p *imagePipeline) process(ctx context.Context, mediaID string) (imageResult, error) {
	imagePath, err := p.content.SaveContent(ctx, mediaID, p.staticDir)
	if err != nil {
		return imageResult{}, domain.NewPipelineError("fetch", mediaID, err)
	}

	resultName := provider.ResultFileName(mediaID)
	out, err := p.classifier.Classify(ctx, imagePath, filepath.Join(p.staticDir, resultName))
	if err != nil {
		return imageResult{}, domain.NewPipelineError("classify", mediaID, err)
	}

	url := p.baseURL + "/static/" + resultName
	return imageResult{fragment: reply.Image(url), label: out.Label}, nil
}
