// Package lambdaboot provides shared Lambda cold-start bootstrap logic.
//
// Both Lambdas need some subset of: AWS config, the S3 media store, the
// DynamoDB run store, SSM secret fetches, and startup logging. This package
// extracts the common init patterns so each Lambda's init() is a short
// composition of helpers.
package lambdaboot

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/floraworks/florapost/internal/blob"
	"github.com/floraworks/florapost/internal/flower"
	"github.com/floraworks/florapost/internal/logging"
	"github.com/floraworks/florapost/internal/publish"
	"github.com/floraworks/florapost/internal/store"
)

// AWSClients holds the core AWS SDK clients shared by both Lambdas.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config. Fatals on failure: a Lambda without
// AWS access cannot do anything useful.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitMediaStore creates the S3 media store from the bucket env var. Fatals
// if the env var is empty.
func InitMediaStore(cfg aws.Config, bucketEnvVar string) *blob.Store {
	bucket := os.Getenv(bucketEnvVar)
	if bucket == "" {
		log.Fatal().Str("envVar", bucketEnvVar).Msg("Bucket environment variable is required")
	}
	return blob.NewStore(s3.NewFromConfig(cfg), bucket)
}

// InitRunStore creates the DynamoDB run store from the table env var. Fatals
// if the env var is empty.
func InitRunStore(cfg aws.Config, tableEnvVar string) *store.DynamoStore {
	tableName := os.Getenv(tableEnvVar)
	if tableName == "" {
		log.Fatal().Str("envVar", tableEnvVar).Msg("DynamoDB table environment variable is required")
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName)
}

// LoadGeminiKey fetches the Gemini API key from SSM Parameter Store if not
// already set via GEMINI_API_KEY env var. Fatals on error: the worker cannot
// analyze without it.
func LoadGeminiKey(ssmClient *ssm.Client) {
	if os.Getenv("GEMINI_API_KEY") != "" {
		return
	}
	paramName := logging.EnvOrDefault("SSM_API_KEY_PARAM", "/florapost/prod/gemini-api-key")
	value, err := fetchParam(ssmClient, paramName, true)
	if err != nil {
		log.Fatal().Err(err).Str("param", paramName).Msg("Failed to read API key from SSM")
	}
	os.Setenv("GEMINI_API_KEY", value)
}

// LoadPublishers builds the publisher registry from SSM-held platform
// credentials. Non-fatal: platforms with missing credentials are left out of
// the registry and their publishes fail with "no publisher configured".
func LoadPublishers(ssmClient *ssm.Client) *publish.Registry {
	var pubs []publish.Publisher

	blogBase := paramOrEnv(ssmClient, "BLOG_BASE_URL", "SSM_BLOG_BASE_URL_PARAM", "/florapost/prod/blog-base-url", false)
	blogUser := paramOrEnv(ssmClient, "BLOG_USERNAME", "SSM_BLOG_USERNAME_PARAM", "/florapost/prod/blog-username", false)
	blogPass := paramOrEnv(ssmClient, "BLOG_PASSWORD", "SSM_BLOG_PASSWORD_PARAM", "/florapost/prod/blog-password", true)
	if blogBase != "" && blogUser != "" && blogPass != "" {
		pubs = append(pubs, publish.NewBlogPublisher(blogBase, blogUser, blogPass))
	} else {
		log.Warn().Msg("Blog credentials not configured; blog publishing disabled")
	}

	imgToken := paramOrEnv(ssmClient, "SOCIAL_IMAGE_ACCESS_TOKEN", "SSM_SOCIAL_IMAGE_TOKEN_PARAM", "/florapost/prod/social-image-access-token", true)
	imgUserID := paramOrEnv(ssmClient, "SOCIAL_IMAGE_USER_ID", "SSM_SOCIAL_IMAGE_USER_ID_PARAM", "/florapost/prod/social-image-user-id", false)
	if imgToken != "" && imgUserID != "" {
		pubs = append(pubs, publish.NewSocialImagePublisher(imgToken, imgUserID))
	} else {
		log.Warn().Msg("Image platform credentials not configured; image publishing disabled")
	}

	vidToken := paramOrEnv(ssmClient, "SOCIAL_VIDEO_ACCESS_TOKEN", "SSM_SOCIAL_VIDEO_TOKEN_PARAM", "/florapost/prod/social-video-access-token", true)
	if vidToken != "" {
		pubs = append(pubs, publish.NewSocialVideoPublisher(vidToken))
	} else {
		log.Warn().Msg("Video platform credentials not configured; video publishing disabled")
	}

	registry := publish.NewRegistry(pubs...)
	for _, platform := range flower.Platforms {
		_, ok := registry.Get(platform)
		log.Info().Str("platform", string(platform)).Bool("configured", ok).Msg("Publisher registration")
	}
	return registry
}

// paramOrEnv returns the env var value when set, otherwise fetches the SSM
// parameter named by paramEnvVar (falling back to defaultParam). Returns ""
// when neither source has a value.
func paramOrEnv(ssmClient *ssm.Client, envVar, paramEnvVar, defaultParam string, secret bool) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	paramName := logging.EnvOrDefault(paramEnvVar, defaultParam)
	value, err := fetchParam(ssmClient, paramName, secret)
	if err != nil {
		log.Warn().Err(err).Str("param", paramName).Msg("SSM parameter not available")
		return ""
	}
	return value
}

func fetchParam(ssmClient *ssm.Client, name string, decrypt bool) (string, error) {
	start := time.Now()
	result, err := ssmClient.GetParameter(context.Background(), &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: aws.Bool(decrypt),
	})
	if err != nil {
		return "", err
	}
	log.Debug().Str("param", name).Dur("elapsed", time.Since(start)).Msg("SSM parameter loaded")
	return *result.Parameter.Value, nil
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
