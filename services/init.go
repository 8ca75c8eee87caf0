package services

import (
	"context"

	"exchangesync/config"
	"exchangesync/interfaces"
	"exchangesync/internal/enum"
	"exchangesync/internal/logger"
	"exchangesync/internal/models"
	"exchangesync/internal/repository"
	"exchangesync/services/activesync"
	"exchangesync/services/events"
	"exchangesync/services/ews"
	"exchangesync/services/mail"
	"exchangesync/services/notes"
	"exchangesync/services/ntlm"
	"exchangesync/services/tasks"
)

type Services struct {
	Repositories   *repository.Repositories
	EventPublisher interfaces.EventPublisher

	log logger.Logger
}

func InitServices(cfg *config.Config, repos *repository.Repositories, log logger.Logger) (*Services, error) {
	services := &Services{
		Repositories: repos,
		log:          log,
	}

	// events are optional: with no broker configured syncs still run,
	// they just do not fan out
	if cfg.AppConfig.RabbitMQURL != "" {
		publisher, err := events.NewRabbitMQPublisher(cfg.AppConfig.RabbitMQURL, log, nil)
		if err != nil {
			return nil, err
		}
		services.EventPublisher = publisher
	}

	return services, nil
}

// AccountConnection bundles the per-account protocol stack: one client,
// one sync-key machine and the entity services sharing them.
type AccountConnection struct {
	Client   *activesync.Client
	Protocol enum.ProtocolPath
	Folders  interfaces.FolderResolver
	SyncKeys interfaces.SyncKeyManager
	Notes    interfaces.NoteService
	Tasks    interfaces.TaskService
	Mail     interfaces.MailService
}

// Connect builds the protocol stack for one account and probes the
// server version. A failed probe is not fatal: the stack proceeds on the
// conservative version.
func (s *Services) Connect(ctx context.Context, account *models.Account) (*AccountConnection, error) {
	negotiator := ntlm.NewNegotiator(nil, s.log)
	client := activesync.NewClient(account, negotiator, s.log)

	if _, err := client.Detect(ctx); err != nil {
		s.log.Warnf("version detection failed for account %s, proceeding with %s: %v", account.ID, client.Version(), err)
	}

	syncKeys := activesync.NewSyncKeyManager(account.ID, client, s.Repositories.FolderSyncRepository, s.log)
	folders := activesync.NewFolderService(account.ID, client, s.Repositories.FolderRepository, s.Repositories.FolderSyncRepository, s.EventPublisher, s.log)

	legacy := !activesync.SupportsNativeItemSync(client.Version())
	soap := ews.NewService(client, legacy, s.log)

	protocol := enum.ProtocolActiveSync
	if legacy {
		protocol = enum.ProtocolEWS
	}
	s.log.Infof("account %s syncs items over %s (server version %s)", account.ID, protocol, client.Version())

	return &AccountConnection{
		Client:   client,
		Protocol: protocol,
		Folders:  folders,
		SyncKeys: syncKeys,
		Notes:    notes.NewService(account.ID, client, folders, syncKeys, client, soap, s.EventPublisher, s.log),
		Tasks:    tasks.NewService(account.ID, client, folders, syncKeys, soap, s.EventPublisher, s.log),
		Mail:     mail.NewService(account.ID, syncKeys, client, s.EventPublisher, s.log),
	}, nil
}

// Close releases the connection's transport resources.
func (c *AccountConnection) Close() {
	if c.Client != nil {
		c.Client.Close()
	}
}
