package cli

import (
	"fmt"
	"os"

	"quiz-room-service/internal/config"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/postgres"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// NewImportQuizCmd publishes quizzes from a YAML file into the Postgres catalog.
func NewImportQuizCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import-quiz FILE",
		Short: "Publish quizzes from a YAML file into the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}

			quizzes, err := readQuizFile(args[0])
			if err != nil {
				return err
			}
			db := postgres.Connect(cfg.Postgres.URL)
			defer db.Close()

			writer := postgres.NewCatalogWriter(db)
			for _, quiz := range quizzes {
				if err := writer.ImportQuiz(cmd.Context(), quiz); err != nil {
					return fmt.Errorf("import quiz %s: %w", quiz.ID, err)
				}
				logger.Info("quiz imported", zap.String("quiz_id", quiz.ID), zap.Int("questions", len(quiz.Questions)))
			}
			return nil
		},
	}
}

// readQuizFile decodes a YAML document holding a list of quizzes under "quizzes".
func readQuizFile(path string) ([]domain.Quiz, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Quizzes []domain.Quiz `yaml:"quizzes"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(doc.Quizzes) == 0 {
		return nil, fmt.Errorf("%s: no quizzes found", path)
	}
	for i := range doc.Quizzes {
		if err := doc.Quizzes[i].Validate(); err != nil {
			return nil, err
		}
	}
	return doc.Quizzes, nil
}
