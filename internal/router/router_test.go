package router

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticRouter(t *testing.T) {
	t.Parallel()

	r := NewStaticRouter(nil)
	ctx := context.Background()

	_, err := r.Current(ctx, "checkout")
	require.Error(t, err)

	require.NoError(t, r.Update(ctx, "checkout", "checkout-dr.example.com"))
	route, err := r.Current(ctx, "checkout")
	require.NoError(t, err)
	assert.Equal(t, "checkout-dr.example.com", route.Target)
	assert.Equal(t, 1, r.UpdateCount())

	require.NoError(t, r.Update(ctx, "checkout", "checkout.example.com"))
	route, err = r.Current(ctx, "checkout")
	require.NoError(t, err)
	assert.Equal(t, "checkout.example.com", route.Target)
	assert.Equal(t, 2, r.UpdateCount())
}

func TestStaticRouter_EmptyTarget(t *testing.T) {
	t.Parallel()

	r := NewStaticRouter(nil)
	require.Error(t, r.Update(context.Background(), "checkout", ""))
	require.Error(t, r.Verify(context.Background(), "checkout", ""))
	require.NoError(t, r.Verify(context.Background(), "checkout", "x.example.com"))
}

// fakeRoute53 records calls and serves canned record sets.
type fakeRoute53 struct {
	changes    []*route53.ChangeResourceRecordSetsInput
	records    []types.ResourceRecordSet
	changeErr  error
	getZoneErr error
}

func (f *fakeRoute53) ChangeResourceRecordSets(_ context.Context, params *route53.ChangeResourceRecordSetsInput, _ ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error) {
	if f.changeErr != nil {
		return nil, f.changeErr
	}
	f.changes = append(f.changes, params)
	return &route53.ChangeResourceRecordSetsOutput{
		ChangeInfo: &types.ChangeInfo{Id: aws.String("/change/C123")},
	}, nil
}

func (f *fakeRoute53) ListResourceRecordSets(_ context.Context, _ *route53.ListResourceRecordSetsInput, _ ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error) {
	return &route53.ListResourceRecordSetsOutput{ResourceRecordSets: f.records}, nil
}

func (f *fakeRoute53) GetHostedZone(_ context.Context, _ *route53.GetHostedZoneInput, _ ...func(*route53.Options)) (*route53.GetHostedZoneOutput, error) {
	if f.getZoneErr != nil {
		return nil, f.getZoneErr
	}
	return &route53.GetHostedZoneOutput{}, nil
}

func TestRoute53Router_Update(t *testing.T) {
	t.Parallel()

	api := &fakeRoute53{}
	r := NewRoute53Router(api, "Z123", "checkout.example.com", 30, nil)

	require.NoError(t, r.Update(context.Background(), "checkout", "checkout-dr.example.com"))
	require.Len(t, api.changes, 1)

	change := api.changes[0].ChangeBatch.Changes[0]
	assert.Equal(t, types.ChangeActionUpsert, change.Action)
	assert.Equal(t, "checkout.example.com", *change.ResourceRecordSet.Name)
	assert.Equal(t, types.RRTypeCname, change.ResourceRecordSet.Type)
	assert.Equal(t, int64(30), *change.ResourceRecordSet.TTL)
	assert.Equal(t, "checkout-dr.example.com", *change.ResourceRecordSet.ResourceRecords[0].Value)
}

func TestRoute53Router_UpdateError(t *testing.T) {
	t.Parallel()

	api := &fakeRoute53{changeErr: errors.New("throttled")}
	r := NewRoute53Router(api, "Z123", "checkout.example.com", 30, nil)

	err := r.Update(context.Background(), "checkout", "checkout-dr.example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Z123")
}

func TestRoute53Router_Current(t *testing.T) {
	t.Parallel()

	api := &fakeRoute53{records: []types.ResourceRecordSet{
		{
			Name: aws.String("checkout.example.com."),
			Type: types.RRTypeCname,
			ResourceRecords: []types.ResourceRecord{
				{Value: aws.String("checkout-dr.example.com")},
			},
		},
	}}
	r := NewRoute53Router(api, "Z123", "checkout.example.com", 30, nil)

	route, err := r.Current(context.Background(), "checkout")
	require.NoError(t, err)
	assert.Equal(t, "checkout-dr.example.com", route.Target)
}

func TestRoute53Router_CurrentMissing(t *testing.T) {
	t.Parallel()

	r := NewRoute53Router(&fakeRoute53{}, "Z123", "checkout.example.com", 30, nil)
	_, err := r.Current(context.Background(), "checkout")
	require.Error(t, err)
}

func TestRoute53Router_Verify(t *testing.T) {
	t.Parallel()

	api := &fakeRoute53{}
	r := NewRoute53Router(api, "Z123", "checkout.example.com", 30, nil)
	require.NoError(t, r.Verify(context.Background(), "checkout", "x.example.com"))
	assert.Empty(t, api.changes)

	bad := NewRoute53Router(&fakeRoute53{getZoneErr: errors.New("denied")}, "Z123", "checkout.example.com", 30, nil)
	require.Error(t, bad.Verify(context.Background(), "checkout", "x.example.com"))
}

func TestDispatcher_RoutesByPair(t *testing.T) {
	t.Parallel()

	fallback := NewStaticRouter(nil)
	dedicated := NewStaticRouter(nil)
	d := NewDispatcher(fallback)
	d.Register("checkout", dedicated)

	require.NoError(t, d.Update(context.Background(), "checkout", "checkout-api.us-west-2"))
	require.NoError(t, d.Update(context.Background(), "search", "search-api.eu-west-1"))

	assert.Equal(t, 1, dedicated.UpdateCount())
	assert.Equal(t, 1, fallback.UpdateCount())

	route, err := d.Current(context.Background(), "checkout")
	require.NoError(t, err)
	assert.Equal(t, "checkout-api.us-west-2", route.Target)

	require.NoError(t, d.Verify(context.Background(), "search", "anywhere"))
}

func TestDispatcher_NoFallback(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	require.Error(t, d.Update(context.Background(), "checkout", "target"))
	_, err := d.Current(context.Background(), "checkout")
	require.Error(t, err)
}
