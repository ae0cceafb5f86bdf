package cfg

import (
	"context"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-npi/internal/xerrors"
)

// Parameter names read below SSMConfigPath.
const (
	ssmParamNVOrigin     = "nv-origin"
	ssmParamAllowedHosts = "allowed-hosts"
)

// NewSSMClient builds a Parameter Store client from the default AWS credential chain.
func NewSSMClient(ctx context.Context) (*ssm.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "load AWS config")
	}
	return ssm.NewFromConfig(awsCfg), nil
}

// ApplySSM overrides sec with the parameters found directly under
// paramPath. Parameters that are absent leave the current value alone.
// Returns the names of the parameters that were applied.
func ApplySSM(ctx context.Context, client ssm.GetParametersByPathAPIClient, paramPath string, sec *Security) ([]string, error) {
	p := ssm.NewGetParametersByPathPaginator(client, &ssm.GetParametersByPathInput{
		Path:           aws.String(strings.TrimSuffix(paramPath, "/")),
		Recursive:      aws.Bool(false),
		WithDecryption: aws.Bool(true),
	})

	var applied []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return applied, xerrors.Wrapf(err, "get SSM parameters under %s", paramPath)
		}
		for _, param := range page.Parameters {
			name := path.Base(aws.ToString(param.Name))
			val := strings.TrimSpace(aws.ToString(param.Value))
			switch name {
			case ssmParamNVOrigin:
				sec.NVOrigin = val
			case ssmParamAllowedHosts:
				sec.SetAllowedHosts(val)
			default:
				continue
			}
			applied = append(applied, name)
		}
	}
	sec.normalize()
	return applied, nil
}
