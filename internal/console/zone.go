package console

import (
	"fmt"

	zone "github.com/lrstanley/bubblezone"
)

// Zone ID format: job:{jobID}
//
// Grounded on the teacher's board.makeZoneID (internal/ui/board/
// zone.go), generalized from "col:{col}:issue:{id}" to a flat job id,
// since the job list has no column grouping. Unlike the teacher's
// version (a plain string scheme with no actual bubblezone.Manager
// wired in), this one drives a real lrstanley/bubblezone global
// manager so job rows are mouse-clickable.

func init() {
	zone.NewGlobal()
}

func makeJobZoneID(jobID int64) string {
	return fmt.Sprintf("job:%d", jobID)
}
