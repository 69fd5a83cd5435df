package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"framerecorder/internal/scene"
)

type sceneReport struct {
	Name     string   `json:"name,omitempty"`
	Objects  int      `json:"objects"`
	Tracks   int      `json:"tracks"`
	Duration float64  `json:"duration"`
	Issues   []string `json:"issues,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// checkScene loads a scene description and reports what survived.
func checkScene(ctx context.Context, data []byte) sceneReport {
	graph, err := scene.NewLoader().Load(ctx, data)
	if graph == nil {
		logger.Debugf(ctx, "scene rejected: %v", err)
		return sceneReport{Error: err.Error()}
	}

	r := sceneReport{
		Name:     graph.Name,
		Objects:  graph.Len(),
		Tracks:   len(graph.Tracks()),
		Duration: graph.Duration(),
	}
	var merr *multierror.Error
	if errors.As(err, &merr) {
		for _, issue := range merr.Errors {
			r.Issues = append(r.Issues, issue.Error())
		}
	} else if err != nil {
		r.Issues = []string{err.Error()}
	}
	return r
}

func printSceneReport(cmd *cobra.Command, r sceneReport) {
	out := cmd.OutOrStdout()
	if r.Error != "" {
		fmt.Fprintf(out, "scene rejected: %s\n", r.Error)
		return
	}
	name := r.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintf(out, "scene %s: %d objects, %d tracks, %.2fs\n", name, r.Objects, r.Tracks, r.Duration)
	for _, issue := range r.Issues {
		fmt.Fprintf(out, "  dropped: %s\n", issue)
	}
}
