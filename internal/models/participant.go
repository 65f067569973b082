package models

import "time"

// Guided experience steps, in order.
const (
	StepIntroduction      = "introduction"
	StepThreeWords        = "three_words"
	StepImagePrompt       = "image_prompt"
	StepFitQuestion       = "fit_question"
	StepBiasQuestion      = "bias_question"
	StepDiverseImage      = "diverse_image"
	StepDiversityQuestion = "diversity_question"
	StepChat              = "chat"
	StepFinalThreeWords   = "final_three_words"
	StepIsUseful          = "is_useful"
	StepRecorded          = "recorded"
)

// Participant is a registered user and their answers to the guided
// experience.
type Participant struct {
	ID              string `gorm:"primaryKey;size:36"`
	Name            string `gorm:"size:128;not null;uniqueIndex"`
	Step            string `gorm:"size:32;default:introduction"`
	ThreeWords      string `gorm:"type:text"`
	Fit             string `gorm:"type:text"`
	Bias            string `gorm:"type:text"`
	Feel            string `gorm:"type:text"`
	AfterThreeWords string `gorm:"type:text"`
	IsUseful        string `gorm:"type:text"`
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Turns []Turn `gorm:"foreignKey:ParticipantID"`
}
