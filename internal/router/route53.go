package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"

	"github.com/systmms/drops/internal/logging"
)

// Route53API is the subset of the Route 53 client the router needs.
type Route53API interface {
	ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
	ListResourceRecordSets(ctx context.Context, params *route53.ListResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error)
	GetHostedZone(ctx context.Context, params *route53.GetHostedZoneInput, optFns ...func(*route53.Options)) (*route53.GetHostedZoneOutput, error)
}

// Route53Router cuts traffic over by upserting a CNAME in a hosted zone.
type Route53Router struct {
	api          Route53API
	hostedZoneID string
	recordName   string
	ttl          int64
	logger       *logging.Logger
}

// NewRoute53Router creates a router for one pair's DNS record.
func NewRoute53Router(api Route53API, hostedZoneID, recordName string, ttl int64, logger *logging.Logger) *Route53Router {
	if ttl <= 0 {
		ttl = 60
	}
	return &Route53Router{
		api:          api,
		hostedZoneID: hostedZoneID,
		recordName:   recordName,
		ttl:          ttl,
		logger:       logger,
	}
}

// NewRoute53Client builds a real Route 53 client from the ambient AWS
// configuration (env, shared config, instance role).
func NewRoute53Client(ctx context.Context) (*route53.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return route53.NewFromConfig(cfg), nil
}

// Update upserts the CNAME so the record points at target.
func (r *Route53Router) Update(ctx context.Context, pair, target string) error {
	if target == "" {
		return fmt.Errorf("empty routing target for pair %s", pair)
	}

	input := &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(r.hostedZoneID),
		ChangeBatch: &types.ChangeBatch{
			Comment: aws.String(fmt.Sprintf("drops failover for pair %s", pair)),
			Changes: []types.Change{
				{
					Action: types.ChangeActionUpsert,
					ResourceRecordSet: &types.ResourceRecordSet{
						Name: aws.String(r.recordName),
						Type: types.RRTypeCname,
						TTL:  aws.Int64(r.ttl),
						ResourceRecords: []types.ResourceRecord{
							{Value: aws.String(target)},
						},
					},
				},
			},
		},
	}

	out, err := r.api.ChangeResourceRecordSets(ctx, input)
	if err != nil {
		return fmt.Errorf("upsert %s in zone %s: %w", r.recordName, r.hostedZoneID, err)
	}
	if r.logger != nil {
		changeID := ""
		if out.ChangeInfo != nil && out.ChangeInfo.Id != nil {
			changeID = *out.ChangeInfo.Id
		}
		r.logger.Info("routed pair %s to %s via %s (change %s)", pair, target, r.recordName, changeID)
	}
	return nil
}

// Current reads the record's value from the hosted zone.
func (r *Route53Router) Current(ctx context.Context, pair string) (Route, error) {
	out, err := r.api.ListResourceRecordSets(ctx, &route53.ListResourceRecordSetsInput{
		HostedZoneId:    aws.String(r.hostedZoneID),
		StartRecordName: aws.String(r.recordName),
		StartRecordType: types.RRTypeCname,
		MaxItems:        aws.Int32(1),
	})
	if err != nil {
		return Route{}, fmt.Errorf("list records in zone %s: %w", r.hostedZoneID, err)
	}

	for _, rrset := range out.ResourceRecordSets {
		if rrset.Name == nil || !recordNamesEqual(*rrset.Name, r.recordName) {
			continue
		}
		if len(rrset.ResourceRecords) == 0 || rrset.ResourceRecords[0].Value == nil {
			break
		}
		return Route{
			Pair:      pair,
			Target:    *rrset.ResourceRecords[0].Value,
			UpdatedAt: time.Now(),
		}, nil
	}
	return Route{}, fmt.Errorf("no CNAME %s in zone %s", r.recordName, r.hostedZoneID)
}

// Verify confirms the hosted zone is reachable without touching the record.
func (r *Route53Router) Verify(ctx context.Context, pair, target string) error {
	if target == "" {
		return fmt.Errorf("empty routing target for pair %s", pair)
	}
	if _, err := r.api.GetHostedZone(ctx, &route53.GetHostedZoneInput{
		Id: aws.String(r.hostedZoneID),
	}); err != nil {
		return fmt.Errorf("hosted zone %s not reachable: %w", r.hostedZoneID, err)
	}
	return nil
}

// Route 53 returns record names fully qualified.
func recordNamesEqual(a, b string) bool {
	return strings.TrimSuffix(a, ".") == strings.TrimSuffix(b, ".")
}
