// Package revisions keeps the edit history of each note in its own git
// repository, one content.json commit per saved change.
package revisions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	contentFile = "content.json"
	branch      = "main"
)

var ErrNoHistory = errors.New("note has no revision history")

// Content is the versioned part of a note.
type Content struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Purpose     string `json:"purpose"`
	Priority    string `json:"priority"`
	Domain      string `json:"domain"`
	Tags        string `json:"tags"`
	IsPublic    bool   `json:"is_public"`
}

type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

type Revision struct {
	Hash      string        `json:"hash"`
	Message   string        `json:"message"`
	Author    string        `json:"author"`
	CreatedAt time.Time     `json:"created_at"`
	Changes   []FieldChange `json:"changes"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Init creates the note's repository with its first revision. It is a no-op
// when the repository already exists.
func (s *Service) Init(noteID string, initial Content, author string) error {
	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(noteID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	hash, err := writeAndCommit(repo, initial, author, "Create note", false)
	if err != nil {
		return err
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// Commit records content as a new revision. Notes created before revision
// tracking get their repository lazily. committed is false when nothing changed.
func (s *Service) Commit(noteID string, content Content, author, message string) (rev Revision, committed bool, err error) {
	if _, statErr := os.Stat(s.repoPath(noteID)); errors.Is(statErr, os.ErrNotExist) {
		if err := s.Init(noteID, content, author); err != nil {
			return Revision{}, false, err
		}
		history, err := s.History(noteID, 1)
		if err != nil || len(history) == 0 {
			return Revision{}, false, err
		}
		return history[0], true, nil
	}

	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(noteID))
	if err != nil {
		return Revision{}, false, fmt.Errorf("open repo: %w", err)
	}
	head, err := headCommit(repo)
	if err != nil {
		return Revision{}, false, err
	}
	previous, err := readContent(head)
	if err != nil {
		return Revision{}, false, err
	}
	changes := Diff(previous, content)
	if len(changes) == 0 {
		return Revision{}, false, nil
	}

	hash, err := writeAndCommit(repo, content, author, message, false)
	if err != nil {
		return Revision{}, false, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, false, fmt.Errorf("read commit object: %w", err)
	}
	rev = toRevision(commitObj)
	rev.Changes = changes
	return rev, true, nil
}

// History lists revisions newest first, each with its changes against the
// previous revision.
func (s *Service) History(noteID string, limit int) ([]Revision, error) {
	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(noteID)
	if err != nil {
		return nil, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		rev := toRevision(commitObj)
		current, err := readContent(commitObj)
		if err != nil {
			return err
		}
		var previous Content
		if parent, err := commitObj.Parent(0); err == nil {
			if previous, err = readContent(parent); err != nil {
				return err
			}
		}
		rev.Changes = Diff(previous, current)
		items = append(items, rev)
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Content returns the note content as of a full or abbreviated hash.
func (s *Service) Content(noteID, hash string) (Content, Revision, error) {
	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(noteID)
	if err != nil {
		return Content{}, Revision{}, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Content{}, Revision{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Content{}, Revision{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	content, err := readContent(commitObj)
	if err != nil {
		return Content{}, Revision{}, err
	}
	return content, toRevision(commitObj), nil
}

// Remove deletes the note's repository.
func (s *Service) Remove(noteID string) error {
	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(noteID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

func (s *Service) open(noteID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(noteID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(noteID string) string {
	return filepath.Join(s.baseDir, filepath.Base(noteID))
}

func (s *Service) noteLock(noteID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[noteID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[noteID] = lock
	return lock
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load head commit: %w", err)
	}
	return commitObj, nil
}

func writeAndCommit(repo *git.Repository, content Content, author, message string, allowEmpty bool) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal content: %w", err)
	}
	root := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(root, contentFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: allowEmpty,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@council.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func readContent(commitObj *object.Commit) (Content, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Content{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	raw, err := file.Contents()
	if err != nil {
		return Content{}, fmt.Errorf("read content: %w", err)
	}
	var content Content
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		return Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return content, nil
}

// Diff lists the fields that differ between two contents, sorted by name.
func Diff(from, to Content) []FieldChange {
	pairs := []FieldChange{
		{Field: "title", Before: from.Title, After: to.Title},
		{Field: "description", Before: from.Description, After: to.Description},
		{Field: "purpose", Before: from.Purpose, After: to.Purpose},
		{Field: "priority", Before: from.Priority, After: to.Priority},
		{Field: "domain", Before: from.Domain, After: to.Domain},
		{Field: "tags", Before: from.Tags, After: to.Tags},
		{Field: "is_public", Before: fmt.Sprint(from.IsPublic), After: fmt.Sprint(to.IsPublic)},
	}
	changes := make([]FieldChange, 0)
	for _, item := range pairs {
		if item.Before != item.After {
			changes = append(changes, item)
		}
	}
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].Field < changes[j].Field
	})
	return changes
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
