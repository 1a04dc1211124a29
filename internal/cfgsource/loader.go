// Package cfgsource fetches the route matcher rules document from SSM
// Parameter Store so the classifier can be changed without a deploy.
package cfgsource

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/Okazakee/okazakee-ws-sub000/internal/cryptoutil"
	"github.com/Okazakee/okazakee-ws-sub000/internal/log"
	"github.com/Okazakee/okazakee-ws-sub000/internal/routing"
	"github.com/Okazakee/okazakee-ws-sub000/internal/xerrors"
)

// ssmAPI is the slice of the SSM client the loader uses. Extracted so
// tests can substitute a double without AWS credentials.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type LoaderOptions struct {
	Logger log.Logger

	// SSM parameter containing the matcher rules YAML document
	SSMParam string

	// AWS config (uses default if nil)
	AWSConfig *aws.Config

	// client overrides the SSM client; tests only
	client ssmAPI
}

type Loader struct {
	opts      LoaderOptions
	ssmClient ssmAPI
	logger    log.Logger
}

// NewLoader creates a matcher rules Loader with the given options.
func NewLoader(ctx context.Context, opts LoaderOptions) (*Loader, error) {
	if opts.SSMParam == "" {
		return nil, xerrors.New("SSMParam is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	client := opts.client
	if client == nil {
		var awsCfg aws.Config
		var err error
		if opts.AWSConfig != nil {
			awsCfg = *opts.AWSConfig
		} else {
			awsCfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, xerrors.Wrap(err, "load AWS config")
			}
		}
		client = ssm.NewFromConfig(awsCfg)
	}

	return &Loader{
		opts:      opts,
		ssmClient: client,
		logger:    opts.Logger,
	}, nil
}

// FetchRules returns the raw rules document plus its SHA-256 hex digest,
// used by the watcher for change detection.
func (l *Loader) FetchRules(ctx context.Context) ([]byte, string, error) {
	out, err := l.ssmClient.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(l.opts.SSMParam),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "get SSM parameter %s", l.opts.SSMParam)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, "", xerrors.Newf("SSM parameter %s has no value", l.opts.SSMParam)
	}

	doc := strings.TrimSpace(*out.Parameter.Value)
	if doc == "" {
		return nil, "", xerrors.Newf("SSM parameter %s is empty", l.opts.SSMParam)
	}

	b := []byte(doc)
	return b, cryptoutil.SHA256Hex(b), nil
}

// LoadClassifier fetches the current rules and builds a classifier from
// them. The digest identifies the loaded document in logs and lets the
// watcher skip rebuilds when nothing changed.
func (l *Loader) LoadClassifier(ctx context.Context) (*routing.Classifier, string, error) {
	b, digest, err := l.FetchRules(ctx)
	if err != nil {
		return nil, "", err
	}

	c, err := routing.LoadBytes(b)
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "parameter %s", l.opts.SSMParam)
	}

	l.logger.Info(ctx, "loaded matcher rules",
		"param", l.opts.SSMParam,
		"digest", truncDigest(digest),
	)
	return c, digest, nil
}

// truncDigest keeps log fields short; full digests add noise.
func truncDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
