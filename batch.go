package celltiler

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/menta2k/cell-tiler/internal/utils"
	"github.com/menta2k/cell-tiler/pkg/detection"
)

// BatchEntry is one slide of a directory run, paired with its detections
// and the name its tiles and output directory use.
type BatchEntry struct {
	Slide      string
	Detections string
	Name       string
}

// BatchSkip is a slide left out of a directory run
type BatchSkip struct {
	Slide  string
	Reason string
}

// PlanBatch pairs every slide found under slideDir with a detection export
// and assigns each a unique output name.
//
// Detections are looked up as <detectionsDir>/<relative dir>/<name>.<ext>
// first, then as <detectionsDir>/<name>.<ext>. A slide without detections
// is skipped, and so is every slide of a group that pairs with the same
// export. Slides whose names clash are named after their path relative to
// slideDir (a/s1.tif becomes a_s1); slides that still clash are skipped.
// Entries keep the order of slides.
func PlanBatch(slideDir, detectionsDir string, slides []string) ([]BatchEntry, []BatchSkip) {
	type candidate struct {
		BatchEntry
		rel  string
		skip string
	}

	cands := make([]*candidate, 0, len(slides))
	byDetections := make(map[string]int)
	for _, p := range slides {
		c := &candidate{BatchEntry: BatchEntry{Slide: p}, rel: relativePath(slideDir, p)}
		cands = append(cands, c)

		stem := utils.BaseName(p)
		found := false
		if dir := filepath.Dir(c.rel); dir != "." {
			c.Detections, found = detection.Find(filepath.Join(detectionsDir, dir), stem)
		}
		if !found {
			c.Detections, found = detection.Find(detectionsDir, stem)
		}
		if !found {
			c.skip = "no detections"
			continue
		}
		byDetections[c.Detections]++
	}

	byName := make(map[string]int)
	for _, c := range cands {
		if c.skip == "" && byDetections[c.Detections] > 1 {
			c.skip = fmt.Sprintf("detections %s match %d slides", c.Detections, byDetections[c.Detections])
		}
		if c.skip == "" {
			c.Name = SourceName(c.Slide)
			byName[c.Name]++
		}
	}

	final := make(map[string]int)
	for _, c := range cands {
		if c.skip != "" {
			continue
		}
		if byName[c.Name] > 1 {
			rel := filepath.ToSlash(strings.TrimSuffix(c.rel, filepath.Ext(c.rel)))
			c.Name = utils.SanitizeFilename(rel)
		}
		final[c.Name]++
	}

	var entries []BatchEntry
	var skipped []BatchSkip
	for _, c := range cands {
		if c.skip == "" && final[c.Name] > 1 {
			c.skip = fmt.Sprintf("output name %q used by %d slides", c.Name, final[c.Name])
		}
		if c.skip != "" {
			skipped = append(skipped, BatchSkip{Slide: c.Slide, Reason: c.skip})
			continue
		}
		entries = append(entries, c.BatchEntry)
	}
	return entries, skipped
}

func relativePath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Base(path)
	}
	return rel
}
