package asyncnode

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"golang.org/x/exp/slog"
)

// ImageFilter selects the most recently published public image owned by one
// of Owners whose name matches NamePattern.
type ImageFilter struct {
	Owners      []string
	NamePattern string
}

// LookupImage resolves the filter to a single image ID. It must run before any
// resource is declared, so a failed lookup leaves nothing behind. There are no
// retries.
//
// An empty ID list means nothing matched. IDs are newest first.
func LookupImage(
	ctx *pulumi.Context,
	log *slog.Logger,
	filter ImageFilter,
) (string, error) {
	res, err := ec2.GetAmiIds(ctx, &ec2.GetAmiIdsArgs{
		Owners: filter.Owners,
		Filters: []ec2.GetAmiIdsFilter{{
			Name:   "name",
			Values: []string{filter.NamePattern},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("get ami ids: %w", err)
	}
	if res == nil || len(res.Ids) == 0 || res.Ids[0] == "" {
		return "", fmt.Errorf("%w: owners %v name %s", NoMatchingImage,
			filter.Owners, filter.NamePattern)
	}
	log.Info("found image",
		slog.String("id", res.Ids[0]),
		slog.Int("candidates", len(res.Ids)))
	return res.Ids[0], nil
}
