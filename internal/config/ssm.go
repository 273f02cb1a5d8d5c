package config

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/bher20/fuelsync/internal/awsconf"
)

// ParameterClient is the SSM call used to read a parameter path.
type ParameterClient = ssm.GetParametersByPathAPIClient

type parameterKey struct {
	name string
	set  func(*Config, string)
}

// parameterKeys maps the last path segment of a parameter (lowercased) to the
// config field it sets. Legacy names come first so the new names win.
var parameterKeys = []parameterKey{
	{"dbeg_endpoint_1", func(c *Config, v string) { c.Source.ListEndpoint = v }},
	{"dbeg_endpoint_2", func(c *Config, v string) { c.Source.DetailEndpoint = v }},
	{"aws_dynamo_table", func(c *Config, v string) { c.Tables.Stations = v }},
	{"aws_dynamo_table_prices", func(c *Config, v string) { c.Tables.Prices = v }},
	{"list-endpoint", func(c *Config, v string) { c.Source.ListEndpoint = v }},
	{"detail-endpoint", func(c *Config, v string) { c.Source.DetailEndpoint = v }},
	{"stations-table", func(c *Config, v string) { c.Tables.Stations = v }},
	{"prices-table", func(c *Config, v string) { c.Tables.Prices = v }},
}

func newSSMClient(ctx context.Context, opts awsconf.Options) (*ssm.Client, error) {
	awsCfg, err := awsconf.Load(ctx, opts)
	if err != nil {
		return nil, err
	}
	return ssm.NewFromConfig(awsCfg, func(o *ssm.Options) {
		o.BaseEndpoint = opts.BaseEndpoint()
	}), nil
}

// fetchParameters reads every parameter below p, recursively and without
// decryption, keyed by the lowercased last path segment.
func fetchParameters(ctx context.Context, client ParameterClient, p string) (map[string]string, error) {
	out := make(map[string]string)
	pager := ssm.NewGetParametersByPathPaginator(client, &ssm.GetParametersByPathInput{
		Path:           aws.String(p),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(false),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("read parameters under %s: %w", p, err)
		}
		for _, prm := range page.Parameters {
			name := strings.ToLower(path.Base(aws.ToString(prm.Name)))
			out[name] = aws.ToString(prm.Value)
		}
	}
	slog.Debug("config: parameters fetched", "path", p, "count", len(out))
	return out, nil
}

func (c *Config) applyParameters(params map[string]string) {
	for _, k := range parameterKeys {
		if v, ok := params[k.name]; ok {
			k.set(c, v)
		}
	}
}
