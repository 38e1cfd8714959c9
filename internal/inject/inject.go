package inject

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/dmorgan81/illustrate/internal/batch"
	"github.com/dmorgan81/illustrate/internal/config"
	"github.com/dmorgan81/illustrate/internal/handler"
	"github.com/dmorgan81/illustrate/internal/image"
	"github.com/dmorgan81/illustrate/internal/log"
	"github.com/dmorgan81/illustrate/internal/metrics"
	"github.com/dmorgan81/illustrate/internal/page"
	"github.com/dmorgan81/illustrate/internal/param"
	"github.com/dmorgan81/illustrate/internal/prompt"
	"github.com/dmorgan81/illustrate/internal/store"
	"github.com/samber/do"
)

// Setup registers every provider lazily; AWS clients are only built when a
// component that needs them is invoked.
func Setup(ctx context.Context, cfg *config.Config) *do.Injector {
	log := log.FromContextOrDiscard(ctx)

	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		},
	})
	do.ProvideValue[*config.Config](injector, cfg)

	do.Provide[aws.Config](injector, func(i *do.Injector) (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx)
	})
	do.Provide[*ssm.Client](injector, func(i *do.Injector) (*ssm.Client, error) {
		return ssm.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*s3.Client](injector, func(i *do.Injector) (*s3.Client, error) {
		return s3.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*cloudfront.Client](injector, func(i *do.Injector) (*cloudfront.Client, error) {
		return cloudfront.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.ProvideValue[*http.Client](injector, http.DefaultClient)

	do.Provide[param.Fetcher](injector, param.NewParameterStoreFetcher)
	do.Provide[*metrics.Metrics](injector, metrics.NewMetrics)
	do.Provide[*prompt.Builder](injector, prompt.NewBuilder)
	do.Provide[*image.Retrier](injector, func(i *do.Injector) (*image.Retrier, error) {
		return newRetrier(ctx, i)
	})
	do.Provide[store.Uploader](injector, func(i *do.Injector) (store.Uploader, error) {
		return &store.FileUploader{}, nil
	})
	do.Provide[*store.S3Uploader](injector, store.NewS3Uploader)
	do.Provide[store.Invalidator](injector, store.NewCloudFrontInvalidator)
	do.Provide[*store.Publisher](injector, store.NewS3Publisher)
	do.Provide[*page.Templator](injector, page.NewTemplator)

	do.Provide[*handler.Handler](injector, handler.NewHandler)
	do.Provide[*batch.Runner](injector, batch.NewRunner)

	return injector
}
