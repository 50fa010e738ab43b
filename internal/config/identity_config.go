package config

import "github.com/jrsteele09/go-access-broker/environment"

const defaultTokenURL = "https://login.microsoftonline.com/organizations/oauth2/v2.0/token"

// Application is an identity provider registration used for one or more environments.
type Application struct {
	ClientID    string
	Scope       string
	LoginSuffix string // appended to usernames that carry no domain
}

type IdentityConfig interface {
	GetTokenURL() string
	GetIssuer() string
	GetApplication(env environment.Environment) Application
	GetLoginApplication() Application
}

type Identity struct{}

var _ IdentityConfig = Identity{}

func (Identity) GetTokenURL() string {
	return GetEnv("IDP_TOKEN_URL", defaultTokenURL)
}

// GetIssuer enables OIDC discovery of the token endpoint when set.
func (Identity) GetIssuer() string {
	return GetEnv("IDP_ISSUER", "")
}

// GetApplication maps an environment to its registration. dev and hml share one.
func (Identity) GetApplication(env environment.Environment) Application {
	if env == environment.Prod {
		return Application{
			ClientID:    GetEnv("AZURE_CLIENT_ID_PROD", ""),
			Scope:       GetEnv("AZURE_SCOPE_PROD", ""),
			LoginSuffix: GetEnv("LOGIN_SUFFIX_PROD", "@animaeducacao.com.br"),
		}
	}
	return Application{
		ClientID:    GetEnv("AZURE_CLIENT_ID_DEV", ""),
		Scope:       GetEnv("AZURE_SCOPE_DEV", ""),
		LoginSuffix: GetEnv("LOGIN_SUFFIX_DEV", "@homolog.animaeducacao.com.br"),
	}
}

// GetLoginApplication is the registration used to validate credentials at login.
func (i Identity) GetLoginApplication() Application {
	return i.GetApplication(environment.Dev)
}
