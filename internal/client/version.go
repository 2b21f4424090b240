package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CheckCompatible fails unless the server's version satisfies constraint,
// e.g. ">= 1.2, < 2".
func (c *Client) CheckCompatible(ctx context.Context, constraint string) error {
	want, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}

	raw, err := c.Version(ctx)
	if err != nil {
		return fmt.Errorf("fetch server version: %w", err)
	}
	got, err := semver.NewVersion(strings.TrimPrefix(raw, "v"))
	if err != nil {
		return fmt.Errorf("server version %q is not a semantic version: %w", raw, err)
	}
	if !want.Check(got) {
		return fmt.Errorf("server version %s does not satisfy %s", got, constraint)
	}
	return nil
}
