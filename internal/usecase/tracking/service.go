package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"poliux/internal/domain"
)

// Store: репозитории отслеживания и заметок.
type Store interface {
	domain.TrackingRepo
	domain.NoteRepo
}

// Service управляет отслеживаемыми элементами и заметками владельца.
type Service struct {
	repo    Store
	catalog domain.CatalogRepo
	log     zerolog.Logger
	now     func() time.Time
}

// NewService создаёт сервис отслеживания.
func NewService(repo Store, catalog domain.CatalogRepo, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		catalog: catalog,
		log:     logger.With().Str("component", "tracking").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Track начинает отслеживание. Повторный вызов ничего не меняет.
func (s *Service) Track(ctx context.Context, ownerID string, itemType domain.ItemType, itemID string) error {
	itemID, err := s.checkItem(ctx, ownerID, itemType, itemID)
	if err != nil {
		return err
	}
	created, err := s.repo.Track(ctx, domain.TrackedItem{OwnerID: ownerID, ItemType: itemType, ItemID: itemID, TrackedAt: s.now()})
	if err != nil {
		return fmt.Errorf("отслеживание %s %s: %w", itemType, itemID, err)
	}
	if created {
		s.log.Debug().Str("owner_id", ownerID).Str("item_type", string(itemType)).Str("item_id", itemID).Msg("элемент отслеживается")
	}
	return nil
}

// Untrack прекращает отслеживание. Отсутствующая запись не считается ошибкой.
func (s *Service) Untrack(ctx context.Context, ownerID string, itemType domain.ItemType, itemID string) error {
	itemID, err := checkKey(ownerID, itemType, itemID)
	if err != nil {
		return err
	}
	return s.repo.Untrack(ctx, ownerID, itemType, itemID)
}

// Toggle переключает отслеживание и возвращает новое состояние.
func (s *Service) Toggle(ctx context.Context, ownerID string, itemType domain.ItemType, itemID string) (bool, error) {
	tracked, err := s.IsTracked(ctx, ownerID, itemType, itemID)
	if err != nil {
		return false, err
	}
	if tracked {
		return false, s.Untrack(ctx, ownerID, itemType, itemID)
	}
	return true, s.Track(ctx, ownerID, itemType, itemID)
}

// IsTracked сообщает, отслеживает ли владелец элемент.
func (s *Service) IsTracked(ctx context.Context, ownerID string, itemType domain.ItemType, itemID string) (bool, error) {
	itemID, err := checkKey(ownerID, itemType, itemID)
	if err != nil {
		return false, err
	}
	return s.repo.IsTracked(ctx, ownerID, itemType, itemID)
}

// ListTracked возвращает отслеживаемые элементы в порядке добавления.
func (s *Service) ListTracked(ctx context.Context, ownerID string, itemType domain.ItemType) ([]domain.TrackedItem, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.NewValidationError("owner_id", "не указан владелец")
	}
	if !itemType.Valid() {
		return nil, domain.NewValidationError("item_type", "неизвестный тип элемента")
	}
	return s.repo.ListTracked(ctx, ownerID, itemType)
}

// AddNote сохраняет заметку к законопроекту или законодателю.
func (s *Service) AddNote(ctx context.Context, ownerID string, entityType domain.ItemType, entityID, title, content string) (domain.Note, error) {
	entityID, err := s.checkItem(ctx, ownerID, entityType, entityID)
	if err != nil {
		return domain.Note{}, err
	}
	title, content, err = normalizeNote(title, content)
	if err != nil {
		return domain.Note{}, err
	}
	now := s.now()
	n, err := s.repo.CreateNote(ctx, domain.Note{
		OwnerID:    ownerID,
		EntityType: entityType,
		EntityID:   entityID,
		Title:      title,
		Content:    content,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return domain.Note{}, fmt.Errorf("сохранение заметки: %w", err)
	}
	return n, nil
}

// EditNote меняет заголовок и текст заметки владельца.
func (s *Service) EditNote(ctx context.Context, ownerID string, noteID int64, title, content string) (domain.Note, error) {
	if _, err := s.ownedNote(ctx, ownerID, noteID); err != nil {
		return domain.Note{}, err
	}
	title, content, err := normalizeNote(title, content)
	if err != nil {
		return domain.Note{}, err
	}
	return s.repo.UpdateNote(ctx, noteID, title, content, s.now())
}

// DeleteNote удаляет заметку владельца.
func (s *Service) DeleteNote(ctx context.Context, ownerID string, noteID int64) error {
	if _, err := s.ownedNote(ctx, ownerID, noteID); err != nil {
		return err
	}
	return s.repo.DeleteNote(ctx, noteID)
}

// NotesFor возвращает заметки владельца, новые первыми. Пустой тип означает все заметки,
// пустой id означает все заметки этого типа.
func (s *Service) NotesFor(ctx context.Context, ownerID string, entityType domain.ItemType, entityID string) ([]domain.Note, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.NewValidationError("owner_id", "не указан владелец")
	}
	entityID = strings.TrimSpace(entityID)
	if entityType == "" && entityID != "" {
		return nil, domain.NewValidationError("entity_type", "id сущности без типа")
	}
	if entityType != "" && !entityType.Valid() {
		return nil, domain.NewValidationError("entity_type", "неизвестный тип элемента")
	}
	return s.repo.ListNotes(ctx, ownerID, entityType, entityID)
}

func (s *Service) ownedNote(ctx context.Context, ownerID string, noteID int64) (domain.Note, error) {
	if strings.TrimSpace(ownerID) == "" {
		return domain.Note{}, domain.NewValidationError("owner_id", "не указан владелец")
	}
	n, err := s.repo.GetNote(ctx, noteID)
	if err != nil {
		return domain.Note{}, err
	}
	if n.OwnerID != ownerID {
		return domain.Note{}, domain.NotFoundf("note %d", noteID)
	}
	return n, nil
}

// checkItem дополнительно проверяет, что элемент есть в каталоге.
func (s *Service) checkItem(ctx context.Context, ownerID string, itemType domain.ItemType, itemID string) (string, error) {
	itemID, err := checkKey(ownerID, itemType, itemID)
	if err != nil {
		return "", err
	}
	switch itemType {
	case domain.ItemBill:
		_, err = s.catalog.GetBill(ctx, itemID)
	case domain.ItemLegislator:
		_, err = s.catalog.GetLegislator(ctx, itemID)
	}
	if err != nil {
		return "", err
	}
	return itemID, nil
}

func checkKey(ownerID string, itemType domain.ItemType, itemID string) (string, error) {
	if strings.TrimSpace(ownerID) == "" {
		return "", domain.NewValidationError("owner_id", "не указан владелец")
	}
	if !itemType.Valid() {
		return "", domain.NewValidationError("item_type", "неизвестный тип элемента")
	}
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return "", domain.NewValidationError("item_id", "не указан элемент")
	}
	return itemID, nil
}

func normalizeNote(title, content string) (string, string, error) {
	title = strings.TrimSpace(title)
	n := utf8.RuneCountInString(title)
	if n == 0 {
		return "", "", domain.NewValidationError("title", "заголовок обязателен")
	}
	if n > domain.NoteTitleMax {
		return "", "", domain.NewValidationError("title", "заголовок должен содержать не более 200 символов")
	}
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) > domain.NoteContentMax {
		return "", "", domain.NewValidationError("content", "текст должен содержать не более 10000 символов")
	}
	return title, content, nil
}
