package mixer

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bogem/id3v2"
)

// tagArtifact writes ID3v2 metadata to mp3 artifacts. Tagging failures are
// recorded as warnings; the artifact stays valid without tags.
func (e *Engine) tagArtifact(job *Job, artifact *Artifact) {
	if artifact.Format != "mp3" {
		return
	}

	tag, err := id3v2.Open(artifact.Path, id3v2.Options{Parse: true})
	if err != nil {
		artifact.Warnings = append(artifact.Warnings,
			fmt.Sprintf("failed to open artifact for tagging: %v", err))
		e.logger.Warn("Failed to open artifact for tagging",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer tag.Close()

	title := job.Title
	if title == "" {
		title = fmt.Sprintf("Voice session %s", job.SessionID)
	}
	tag.SetTitle(title)
	tag.SetArtist(strings.Join(job.Participants, ", "))
	tag.SetYear(fmt.Sprintf("%d", time.Now().Year()))
	tag.AddTextFrame(tag.CommonID("Length"), tag.DefaultEncoding(),
		fmt.Sprintf("%d", artifact.Duration.Milliseconds()))

	if err := tag.Save(); err != nil {
		artifact.Warnings = append(artifact.Warnings,
			fmt.Sprintf("failed to save artifact tags: %v", err))
		e.logger.Warn("Failed to save artifact tags",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}
