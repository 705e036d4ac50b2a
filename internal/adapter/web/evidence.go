package web

import (
	"context"
	"encoding/hex"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/net/html"

	"github.com/boddenberg/surface-exec/internal/domain"
	"github.com/boddenberg/surface-exec/internal/port"
)

const maxEvidenceImages = 20

// captureEvidence collects artifacts for the requested level. Failures are
// logged and never fail the query.
func captureEvidence(ctx context.Context, sess port.BrowserSession, level domain.EvidenceLevel, src string, doc *html.Node, logger *zap.Logger) *domain.Evidence {
	if level == domain.EvidenceNone {
		return nil
	}
	ev := &domain.Evidence{
		HTML:       src,
		Headers:    sess.ResponseHeaders(),
		CapturedAt: time.Now().UTC(),
	}
	for _, img := range queryAll(doc, "img[src]") {
		if len(ev.Images) == maxEvidenceImages {
			break
		}
		if u := resolveLink(getAttrValue(img, "src")); u != "" {
			ev.Images = append(ev.Images, u)
		}
	}
	if level == domain.EvidenceFull {
		shot, err := sess.Screenshot(ctx)
		if err != nil {
			logger.Warn("screenshot failed", zap.Error(err))
		} else {
			ev.Screenshot = shot
		}
	}
	ev.Digest = digest(ev)
	return ev
}

// digest is a BLAKE2b-256 over the HTML and screenshot so stored evidence
// can be checked for tampering.
func digest(ev *domain.Evidence) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(ev.HTML))
	h.Write(ev.Screenshot)
	return hex.EncodeToString(h.Sum(nil))
}
