package gateway

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/aibot-search-gateway/internal/domain"
	"github.com/xela07ax/aibot-search-gateway/internal/infra"
	"github.com/xela07ax/aibot-search-gateway/internal/upstream"
)

// Authorizer сверяет resolved identity с allow-листами доменов и workspace.
//
// Fail closed: сбой директории, неизвестный пользователь, пустые allow-листы —
// всё это отказ, никогда не "разрешено по умолчанию".
type Authorizer struct {
	directory     upstream.Directory
	domains       []string
	teamIDs       map[string]struct{}
	enterpriseIDs map[string]struct{}
	logger        *zap.Logger
}

func NewAuthorizer(directory upstream.Directory, cfg infra.PolicyConfig, logger *zap.Logger) *Authorizer {
	teams := make(map[string]struct{}, len(cfg.AllowedTeamIDs))
	for _, id := range cfg.AllowedTeamIDs {
		if id = strings.TrimSpace(id); id != "" {
			teams[id] = struct{}{}
		}
	}
	enterprises := make(map[string]struct{}, len(cfg.AllowedEnterpriseIDs))
	for _, id := range cfg.AllowedEnterpriseIDs {
		if id = strings.TrimSpace(id); id != "" {
			enterprises[id] = struct{}{}
		}
	}
	return &Authorizer{
		directory:     directory,
		domains:       cfg.AllowedDomains,
		teamIDs:       teams,
		enterpriseIDs: enterprises,
		logger:        logger.Named("authorizer"),
	}
}

// Authorize ищет пользователя в директории workspace и проверяет его
// принадлежность по allow-листам. Возвращает директорную запись —
// из нее шлюз соберет ResolvedIdentity.
func (a *Authorizer) Authorize(ctx context.Context, email string) (*domain.DirectoryIdentity, *domain.AuthError) {
	if !a.domainAllowed(email) {
		a.logger.Warn("email domain not allowed", zap.String("email", email))
		return nil, domain.NewAuthError(domain.CodeUnauthorized,
			http.StatusForbidden, "Unauthorized access (Email Domain or Slack Workspace)")
	}

	user, err := a.directory.LookupUserByEmail(ctx, email)
	if err != nil || user == nil {
		// Сбой lookup и "не найден" неразличимы для клиента: оба — отказ
		a.logger.Warn("user not found in workspace directory",
			zap.String("email", email), zap.Error(err))
		return nil, domain.NewAuthError(domain.CodeUserNotFound,
			http.StatusForbidden, "User not recognized in Slack workspace")
	}

	teamID := user.TeamID
	// Enterprise Grid: team_id может прятаться внутри enterprise_user.teams
	if teamID == "" && len(user.EnterpriseUser.Teams) > 0 {
		teamID = user.EnterpriseUser.Teams[0]
		a.logger.Info("extracted team_id from enterprise_user.teams",
			zap.String("team_id", teamID))
	}

	if !a.membershipAllowed(teamID, user.EnterpriseID) {
		a.logger.Warn("workspace membership not allowed",
			zap.String("email", email),
			zap.String("team_id", teamID),
			zap.String("enterprise_id", user.EnterpriseID))
		return nil, domain.NewAuthError(domain.CodeUnauthorized,
			http.StatusForbidden, "Unauthorized access (Email Domain or Slack Workspace)")
	}

	return &domain.DirectoryIdentity{
		SlackUserID:  user.ID,
		TeamID:       teamID,
		EnterpriseID: user.EnterpriseID,
	}, nil
}

func (a *Authorizer) domainAllowed(email string) bool {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	emailDomain := strings.ToLower(email[at+1:])
	for _, d := range a.domains {
		if emailDomain == strings.ToLower(strings.TrimSpace(d)) {
			return true
		}
	}
	if len(a.domains) == 0 {
		a.logger.Error("security risk: no allowed domains configured, denying access")
	}
	return false
}

func (a *Authorizer) membershipAllowed(teamID, enterpriseID string) bool {
	if len(a.teamIDs) == 0 && len(a.enterpriseIDs) == 0 {
		a.logger.Error("security risk: no whitelisted teams or enterprises configured, denying access")
		return false
	}
	if _, ok := a.teamIDs[teamID]; ok {
		return true
	}
	if enterpriseID != "" {
		if _, ok := a.enterpriseIDs[enterpriseID]; ok {
			return true
		}
	}
	return false
}
