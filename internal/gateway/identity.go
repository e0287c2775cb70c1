package gateway

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/nao1215/sanctuary/pkg/httpclient"
)

// User は外部IDプロバイダが管理するユーザー。
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// IdentityProvider はユーザー管理を委譲する外部APIの操作。
type IdentityProvider interface {
	ListUsers(ctx context.Context) ([]User, error)
	InviteUser(ctx context.Context, email, role string) (User, error)
	UpdateRole(ctx context.Context, userID, role string) (User, error)
	RemoveUser(ctx context.Context, userID string) error
}

// IdentityClient はサービスキーで外部IDプロバイダの管理APIを呼び出す。
type IdentityClient struct {
	client *httpclient.Client
}

// NewIdentityClient は新しいIdentityClientを生成する。
func NewIdentityClient(baseURL, serviceKey string) *IdentityClient {
	return &IdentityClient{
		client: httpclient.New(baseURL,
			httpclient.WithTimeout(10*time.Second),
			httpclient.WithHeader("Authorization", "Bearer "+serviceKey),
		),
	}
}

type userListResponse struct {
	Users []User `json:"users"`
}

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type roleRequest struct {
	Role string `json:"role"`
}

// ListUsers は全ユーザーを返す。
func (c *IdentityClient) ListUsers(ctx context.Context) ([]User, error) {
	var resp userListResponse
	if err := c.client.GetJSON(ctx, "/v1/users", &resp); err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗: %w", err)
	}
	if resp.Users == nil {
		resp.Users = []User{}
	}
	return resp.Users, nil
}

// InviteUser はメールアドレス宛てに招待を送り、作成されたユーザーを返す。
func (c *IdentityClient) InviteUser(ctx context.Context, email, role string) (User, error) {
	var user User
	if err := c.client.PostJSON(ctx, "/v1/users/invite", inviteRequest{Email: email, Role: role}, &user); err != nil {
		return User{}, fmt.Errorf("ユーザーの招待に失敗: %w", err)
	}
	return user, nil
}

// UpdateRole はユーザーのロールを変更する。
func (c *IdentityClient) UpdateRole(ctx context.Context, userID, role string) (User, error) {
	var user User
	if err := c.client.PutJSON(ctx, "/v1/users/"+url.PathEscape(userID)+"/role", roleRequest{Role: role}, &user); err != nil {
		return User{}, fmt.Errorf("ロールの変更に失敗: %w", err)
	}
	return user, nil
}

// RemoveUser はユーザーを削除する。
func (c *IdentityClient) RemoveUser(ctx context.Context, userID string) error {
	if err := c.client.Delete(ctx, "/v1/users/"+url.PathEscape(userID)); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗: %w", err)
	}
	return nil
}
