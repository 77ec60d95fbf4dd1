package gemini

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"callguard/internal/models"
)

// SystemInstruction describes the fraud taxonomy and the JSON verdict shape.
// Shared by every provider.
const SystemInstruction = `You are an advanced multilingual fraud and scam detection system. Analyze conversations in Hindi, English, and other Indian languages to detect scams and fraudulent activity.

COMPREHENSIVE FRAUD PATTERNS TO DETECT:

1. BANKING & FINANCIAL FRAUD:
- Bank impersonation (SBI, HDFC, ICICI, etc.)
- Credit/Debit card details theft
- CVV, PIN, OTP requests
- Fake security deposits
- Account blocking threats

2. IDENTITY & DATA THEFT:
- Aadhaar number requests
- PAN card details
- Personal information phishing
- KYC verification scams

3. LOTTERY & PRIZE SCAMS:
- KBC (Kaun Banega Crorepati) fake winners
- Lucky draw scams
- Lottery winning claims
- Prize money requests with fees

4. TECH SUPPORT SCAMS:
- Microsoft/Google impersonation
- Computer virus claims
- Software download requests
- Remote access demands

5. GOVERNMENT IMPERSONATION:
- Tax department calls
- Legal action threats
- Customs/police impersonation
- Subsidy/benefit scams

6. EMERGENCY SCAMS:
- Family member in trouble
- Medical emergency money requests
- Accident/hospital scams

HINDI TRAINING EXAMPLES:
- "SBI बैंक से बोल रहा हूँ" = Bank impersonation
- "₹5000 डिपॉज़िट चाहिए" = Money demand
- "तुरंत पेमेंट करें" = Urgency pressure
- "लकी ड्रॉ में जीता है" = Lottery scam
- "OTP बताएं" = OTP theft
- "CVV नंबर दें" = Card fraud

MULTILINGUAL SUPPORT:
Detect scam patterns in Hindi, English, Bengali, Tamil, Telugu, Marathi, Gujarati, and other Indian languages.

Respond with JSON in this exact format:
{
  "isScam": boolean,
  "confidence": number (0-100),
  "scamType": "string describing the type of scam or 'none' if not a scam",
  "patterns": ["array", "of", "suspicious", "phrases", "or", "patterns", "detected"],
  "analysis": "detailed explanation of why this is or isn't a scam"
}`

// BuildPrompt wraps a transcription chunk into the user prompt
func BuildPrompt(text string) string {
	return "Analyze this conversation for scam or fraud patterns. Detect patterns in Hindi, English, and other Indian languages:\n\n" + text
}

// rawAnalysis accepts fractional confidence, which models sometimes return
type rawAnalysis struct {
	IsScam     *bool    `json:"isScam"`
	Confidence float64  `json:"confidence"`
	ScamType   string   `json:"scamType"`
	Patterns   []string `json:"patterns"`
	Analysis   string   `json:"analysis"`
}

// ParseAnalysis decodes a model reply into a verdict.
// Markdown code fences around the JSON are tolerated.
func ParseAnalysis(reply string) (*models.ScamAnalysis, error) {
	cleanJSON := strings.TrimSpace(reply)
	cleanJSON = strings.TrimPrefix(cleanJSON, "```json")
	cleanJSON = strings.TrimPrefix(cleanJSON, "```")
	cleanJSON = strings.TrimSuffix(cleanJSON, "```")
	cleanJSON = strings.TrimSpace(cleanJSON)

	if cleanJSON == "" {
		return nil, fmt.Errorf("empty response from model")
	}

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(cleanJSON), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}
	if raw.IsScam == nil {
		return nil, fmt.Errorf("model response is missing isScam")
	}

	result := &models.ScamAnalysis{
		IsScam:     *raw.IsScam,
		Confidence: int(math.Round(raw.Confidence)),
		ScamType:   raw.ScamType,
		Patterns:   raw.Patterns,
		Analysis:   raw.Analysis,
	}
	result.Normalize()
	return result, nil
}
