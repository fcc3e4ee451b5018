package main

import (
	"errors"
	"log"

	"gorm.io/gorm"

	"github.com/elmoiv/Maan/internal/api"
	"github.com/elmoiv/Maan/internal/auth"
	"github.com/elmoiv/Maan/internal/config"
	"github.com/elmoiv/Maan/internal/db"
	"github.com/elmoiv/Maan/internal/models"
	"github.com/elmoiv/Maan/internal/rabbitmq"
	"github.com/elmoiv/Maan/internal/repository"
	"github.com/elmoiv/Maan/internal/session"
	"github.com/elmoiv/Maan/internal/workspace"
	"github.com/elmoiv/Maan/internal/ws"
)

// projectStore adapts the gorm project repository onto the coordination
// core's record-store interface.
type projectStore struct {
	repo *repository.ProjectRepository
}

func (s *projectStore) FindBySessionKey(key string) (*session.ProjectRecord, error) {
	p, err := s.repo.FindBySessionKey(key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, session.ErrSessionNotFound
		}
		return nil, err
	}
	return &session.ProjectRecord{
		SessionKey:    p.SessionKey,
		Name:          p.Name,
		Capacity:      p.MaxUsers,
		AdminID:       p.AdminID,
		WorkspaceRoot: p.WorkspacePath,
		Active:        p.Active,
	}, nil
}

func (s *projectStore) SetInactive(key string) error {
	return s.repo.SetInactive(key)
}

func main() {
	cfg := config.LoadConfig()

	gormDB := db.Init(cfg.DatabaseURL)

	log.Println("Running migrations...")
	if err := gormDB.AutoMigrate(&models.User{}, &models.Project{}); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Migrations completed.")

	userRepo := repository.NewUserRepository(gormDB)
	projectRepo := repository.NewProjectRepository(gormDB)
	authSvc := auth.NewService(userRepo, cfg.JWTSecret)

	wsManager, err := workspace.NewManager(cfg.WorkspaceBase)
	if err != nil {
		log.Fatalf("Failed to initialize workspace base: %v", err)
	}

	// The lifecycle bus is optional: without a broker the server still runs,
	// it just publishes nothing.
	var bus session.Publisher
	if cfg.RabbitMQURL != "" {
		publisher, err := rabbitmq.NewPublisher(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("⚠️ RabbitMQ unavailable, lifecycle events disabled: %v", err)
		} else {
			defer publisher.Close()
			bus = publisher
		}
	}

	hub := ws.NewHub(authSvc)
	core := session.NewService(
		session.NewRegistry(),
		session.NewRooms(hub),
		&projectStore{repo: projectRepo},
		wsManager,
		bus,
	)
	hub.Attach(core)

	watcher, err := workspace.NewWatcher(wsManager, func(tc workspace.TreeChange) {
		core.NotifyTreeChanged(tc.SessionKey, tc.Path, tc.Op)
	})
	if err != nil {
		log.Fatalf("Failed to start workspace watcher: %v", err)
	}
	defer watcher.Close()
	go watcher.Run()

	// Re-register existing active workspaces after a restart.
	if projects, err := projectRepo.All(); err == nil {
		for _, p := range projects {
			if p.Active {
				if err := watcher.WatchSession(p.SessionKey); err != nil {
					log.Printf("⚠️ Failed to watch workspace %s: %v", p.SessionKey, err)
				}
			}
		}
	}

	handler := &api.Handler{
		Auth:            authSvc,
		Users:           userRepo,
		Projects:        projectRepo,
		Core:            core,
		WS:              wsManager,
		Watcher:         watcher,
		DefaultMaxUsers: cfg.DefaultMaxUsers,
	}

	router := api.NewRouter(handler, hub.HandleConnection)

	log.Printf("Maan server listening on :%s", cfg.ServicePort)
	if err := router.Run(":" + cfg.ServicePort); err != nil {
		log.Fatalf("Failed to serve: %v", err)
	}
}
