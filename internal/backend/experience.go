package backend

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/chatmancer/chatmancer/internal/models"
)

// Reply is one assistant answer in the guided experience.
type Reply struct {
	Text      string
	ImageURLs []string
	ImageURL  string
}

// Commands recognized by the guided experience.
const (
	CmdIntroduction = "/introduction"
	CmdImage        = "/image"
	CmdDiverseImage = "/diverse-image"
	CmdFinalize     = "/finalize"
	CmdWhy          = "/why"
	CmdHow          = "/how"
	CmdStory        = "/story"
)

// Scripted texts.
const (
	TextIntroduction  = "Hi, I am ChatBot. I'm built to help you know autism better, beyond stereotypes. To begin, please type three words that come to mind when you think of autism."
	TextImagePrompt   = "Now, let's explore some pictures in the existing text2img model, type '/image describe an autistic person in real life' to generate some biased images."
	TextThreeImages   = "Three images are created. Do they match your perception of an autistic person?"
	TextBiasQuestion  = "Do you think the images are biased? If so, how?"
	TextDiversePrompt = "Thank you. Now type /diverse-image to generate a diverse image."
	TextDiverseImage  = "Here is the more diverse image you requested. How do you feel about the new images?"
	TextChatOpen      = "You can now chat with me freely. Type your question, and if you want to end the chat, please type /finalize and share with us your feedback."
	TextFinalWords    = "Thank you for completing the experience! Before we say goodbye, please type 3 new words about your perception of Autism."
	TextIsUseful      = "Do you think the experience is useful?"
	TextRecorded      = "Your experience has been recorded. Thank you for participating!"
	TextInvalid       = "Invalid command or input. Please follow the steps."

	whyQuestion = "Why do AI-generated images of autism always depict a young white boy? Why are these stereotypes generated?"
)

// The suggested /image description is swapped for the prompt that
// reproduces the stereotype.
const (
	suggestedPrompt = "describe an autistic person in real life"
	biasedPrompt    = "describe a lonely autistic young boy"
)

// multiImageCount is how many images /image produces.
const multiImageCount = 3

// Links offered by /story and /how.
var (
	StoryURL = "https://docs.google.com/forms/d/e/1FAIpQLSce-N7nGjUyJO21lttwJzzD5z0V5Lqv1ckAYB1aSYp5DuLi7g/viewform?usp=sf_link"
	HowURLs  = []string{
		"https://www.ambitiousaboutautism.org.uk/about-us/media-centre/blog/what-its-like-to-be-autistic-our-own-words",
		"https://www.youtube.com/watch?v=q3E3Q6tiESA",
		"https://www.youtube.com/watch?v=y4vurv9usYA",
	}
)

// Experience drives a participant through the scripted steps.
type Experience struct {
	Images    ImageGenerator
	Responder Responder
}

// Advance handles one question, updating p's step and answers in place.
// doc is the active context document name, or "".
func (e *Experience) Advance(ctx context.Context, p *models.Participant, question, doc string) (Reply, error) {
	q := strings.TrimSpace(question)
	lower := strings.ToLower(q)

	switch {
	case strings.HasPrefix(lower, CmdIntroduction):
		p.Step = models.StepThreeWords
		return Reply{Text: TextIntroduction}, nil

	case p.Step == models.StepThreeWords:
		p.ThreeWords = q
		p.Step = models.StepImagePrompt
		return Reply{Text: TextImagePrompt}, nil

	case p.Step == models.StepImagePrompt && strings.HasPrefix(lower, CmdImage):
		desc := strings.TrimSpace(strings.TrimPrefix(lower, CmdImage))
		if desc == suggestedPrompt {
			desc = biasedPrompt
		}
		urls := make([]string, 0, multiImageCount)
		for i := 0; i < multiImageCount; i++ {
			u, err := e.Images.Generate(ctx, desc)
			if err != nil {
				return Reply{}, fmt.Errorf("backend: generate image: %w", err)
			}
			urls = append(urls, u)
		}
		p.Step = models.StepFitQuestion
		return Reply{Text: TextThreeImages, ImageURLs: urls}, nil

	case p.Step == models.StepFitQuestion:
		p.Fit = q
		p.Step = models.StepBiasQuestion
		return Reply{Text: TextBiasQuestion}, nil

	case p.Step == models.StepBiasQuestion:
		p.Bias = q
		p.Step = models.StepDiverseImage
		return Reply{Text: TextDiversePrompt}, nil

	case p.Step == models.StepDiverseImage && strings.HasPrefix(lower, CmdDiverseImage):
		desc := strings.TrimSpace(strings.TrimPrefix(lower, CmdDiverseImage))
		u, err := e.Images.Generate(ctx, desc)
		if err != nil {
			return Reply{}, fmt.Errorf("backend: generate diverse image: %w", err)
		}
		p.Step = models.StepDiversityQuestion
		return Reply{Text: TextDiverseImage, ImageURL: u}, nil

	case p.Step == models.StepDiversityQuestion:
		p.Feel = q
		p.Step = models.StepChat
		return Reply{Text: TextChatOpen}, nil

	case lower == CmdStory:
		return Reply{Text: "Share your story: " + StoryURL}, nil

	case lower == CmdHow:
		return Reply{Text: "In their own words: " + HowURLs[rand.IntN(len(HowURLs))]}, nil

	case lower == CmdWhy:
		return e.respond(ctx, whyQuestion, doc)

	case p.Step == models.StepChat && lower == CmdFinalize:
		p.Step = models.StepFinalThreeWords
		return Reply{Text: TextFinalWords}, nil

	case p.Step == models.StepChat:
		return e.respond(ctx, q, doc)

	case p.Step == models.StepFinalThreeWords:
		p.AfterThreeWords = q
		p.Step = models.StepIsUseful
		return Reply{Text: TextIsUseful}, nil

	case p.Step == models.StepIsUseful:
		p.IsUseful = q
		p.Step = models.StepRecorded
		now := time.Now()
		p.CompletedAt = &now
		return Reply{Text: TextRecorded}, nil
	}
	return Reply{Text: TextInvalid}, nil
}

func (e *Experience) respond(ctx context.Context, question, doc string) (Reply, error) {
	text, err := e.Responder.Respond(ctx, question, doc)
	if err != nil {
		return Reply{}, fmt.Errorf("backend: respond: %w", err)
	}
	return Reply{Text: text}, nil
}
