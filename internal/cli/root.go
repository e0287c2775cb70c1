// Package cli はchurchctlのコマンドを提供する。
//
// churchctlは運用者向けのツールで、開発用トークンの発行、
// 疑似的なレコード挿入、通知フィードの確認とSSEの購読を行う。
package cli

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nao1215/sanctuary/pkg/httpclient"
)

var (
	version = "dev"
	commit  = "none"
)

// options は全コマンド共通の設定。フラグ、CHURCHCTL_*環境変数、既定値の順に優先する。
type options struct {
	v *viper.Viper
}

func (o *options) gateway() string { return o.v.GetString("gateway") }
func (o *options) token() string   { return o.v.GetString("token") }
func (o *options) secret() string  { return o.v.GetString("secret") }

// client はgateway向けのHTTPクライアントを生成する。トークンがあればAuthorizationヘッダーを付ける。
func (o *options) client(opts ...httpclient.Option) *httpclient.Client {
	if tok := o.token(); tok != "" {
		opts = append(opts, httpclient.WithHeader("Authorization", "Bearer "+tok))
	}
	return httpclient.New(o.gateway(), opts...)
}

func newRootCmd() *cobra.Command {
	opts := &options{v: viper.New()}
	opts.v.SetEnvPrefix("churchctl")
	opts.v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "churchctl",
		Short:         "Operate the sanctuary notification services",
		Long:          "churchctl issues development tokens, emits synthetic record inserts and watches the admin notification feed.",
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("gateway", "http://localhost:8080", "gateway base URL (CHURCHCTL_GATEWAY)")
	flags.String("token", "", "bearer token for authenticated calls (CHURCHCTL_TOKEN)")
	flags.String("secret", "dev-secret-key", "JWT signing secret used by the token command (CHURCHCTL_SECRET)")
	for _, name := range []string{"gateway", "token", "secret"} {
		_ = opts.v.BindPFlag(name, flags.Lookup(name))
	}

	cmd.AddCommand(newTokenCmd(opts))
	cmd.AddCommand(newEmitCmd(opts))
	cmd.AddCommand(newFeedCmd(opts))
	cmd.AddCommand(newDemoCmd())
	return cmd
}

// NewRootCmdForTest returns the root command for testing.
func NewRootCmdForTest() *cobra.Command {
	return newRootCmd()
}

// Execute はctxがキャンセルされるまでルートコマンドを実行する。
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}
