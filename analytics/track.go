// Package analytics builds the tracker of an upload run. Every event sent through it carries
// the run id and, when running on Bitrise, the build and app slugs.
package analytics

import (
	"fmt"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

type TrackerFactory func(...analytics.Properties) analytics.Tracker

const (
	RunID           = "run_id"
	BuildSlug       = "build_slug"
	AppSlug         = "app_slug"
	BuildSlugEnvKey = "BITRISE_BUILD_SLUG"
	AppSlugEnvKey   = "BITRISE_APP_SLUG"
)

func NewRunTracker(repository env.Repository, runID string, trackerFactory TrackerFactory) (analytics.Tracker, error) {
	if runID == "" {
		return nil, fmt.Errorf("no run ID given")
	}

	properties := analytics.Properties{RunID: runID}
	if buildSlug := repository.Get(BuildSlugEnvKey); buildSlug != "" {
		properties[BuildSlug] = buildSlug
	}
	if appSlug := repository.Get(AppSlugEnvKey); appSlug != "" {
		properties[AppSlug] = appSlug
	}

	return trackerFactory(properties), nil
}

func NewDefaultRunTracker(repository env.Repository, runID string, logger log.Logger) (analytics.Tracker, error) {
	return NewRunTracker(repository, runID, func(p ...analytics.Properties) analytics.Tracker {
		return analytics.NewDefaultTracker(logger, p...)
	})
}
