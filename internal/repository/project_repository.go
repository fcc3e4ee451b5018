package repository

import (
	"github.com/elmoiv/Maan/internal/models"
	"gorm.io/gorm"
)

type ProjectRepository struct {
	DB *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{DB: db}
}

func (r *ProjectRepository) Create(project *models.Project) error {
	return r.DB.Create(project).Error
}

func (r *ProjectRepository) FindBySessionKey(key string) (*models.Project, error) {
	var project models.Project
	err := r.DB.Where("session_key = ?", key).First(&project).Error
	return &project, err
}

func (r *ProjectRepository) FindByAdminID(adminID uint) ([]models.Project, error) {
	var projects []models.Project
	err := r.DB.Where("admin_id = ? AND active = ?", adminID, true).Find(&projects).Error
	return projects, err
}

func (r *ProjectRepository) All() ([]models.Project, error) {
	var projects []models.Project
	err := r.DB.Find(&projects).Error
	return projects, err
}

func (r *ProjectRepository) SetInactive(key string) error {
	return r.DB.Model(&models.Project{}).Where("session_key = ?", key).Update("active", false).Error
}
