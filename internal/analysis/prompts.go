package analysis

// Prompt templates for the six cascade layers. Each template is formatted
// with the (possibly truncated) transcript and, from layer 2 on, the prior
// layers' summary lines. Every prompt demands a JSON object with a
// top-level "summary" string so layer outputs stay mutually consumable.

const systemPrompt = `You are an analyst for business call and meeting transcripts.
Respond with a single JSON object and nothing else. No prose, no code fences.
All scores are numbers, not strings. Use the exact field names requested.`

const layer1Prompt = `Analyze this meeting transcript and extract the entities discussed.

Return a JSON object with exactly these fields:
- "meeting_type": one of "sales_call", "support_call", "customer_success", "internal", "interview", "training", "other"
- "purpose": one sentence describing why the meeting happened
- "participants": array of {"name", "role", "company", "is_host": bool, "is_external": bool}
- "companies": array of {"name", "is_customer": bool, "is_competitor": bool}
- "deal_signals": {"budget", "timeline", "authority", "need"} each {"present": bool, "strength": 0-1, "evidence"}
- "competitors_mentioned": array of strings
- "products_discussed": array of strings
- "key_dates": array of {"date", "context"}
- "crm_hints": array of strings that could match CRM records
- "summary": one paragraph

Transcript:
%s`

const layer2Prompt = `Assess sentiment and customer health for this meeting.

Prior analysis:
%s

Return a JSON object with exactly these fields:
- "predicted_nps": {"score": 0-10, "confidence": 0-1, "rationale"}
- "churn_risk": {"level": "low"|"medium"|"high", "score": 0-1, "indicators": array of strings}
- "customer_health": {"composite": 0-100, "engagement": 0-100, "satisfaction": 0-100, "adoption": 0-100, "relationship": 0-100}
- "expansion_signals": array of strings
- "sentiment": {"positive": 0-1, "neutral": 0-1, "negative": 0-1} summing to 1
- "emotional_moments": array of {"quote", "emotion", "speaker"}
- "meeting_quality": {"overall": 1-10, "preparation": 1-10, "engagement": 1-10, "clarity": 1-10, "outcome": 1-10}
- "topics": array of strings
- "concerns": array of strings
- "summary": one paragraph

Transcript:
%s`

const layer3Prompt = `Evaluate resolution and outcomes for this meeting.

Prior analysis:
%s

Return a JSON object with exactly these fields:
- "objectives_met": {"score": 0-1, "details"}
- "first_contact_resolution": bool
- "escalation": {"needed": bool, "target"}
- "loop_closure": {"score": 0-1, "open_loops": array of strings, "closed_loops": array of strings}
- "action_items": {"quality_score": 0-1, "items": array of {"text", "owner", "deadline", "specific": bool}}
- "decisions": array of strings
- "unresolved_issues": array of strings
- "follow_up": {"required": bool, "items": array of strings}
- "summary": one paragraph

Transcript:
%s`

const layer4Prompt = `Produce recommendations based on this meeting.

Prior analysis:
%s

Return a JSON object with exactly these fields:
- "coaching_points": array of strings for the host
- "sales_recommendations": array of strings
- "customer_success_actions": array of strings
- "process_improvements": array of strings
- "knowledge_gaps": array of strings
- "follow_up": {"priority": "low"|"medium"|"high"|"urgent", "deadline", "suggested_message"}
- "risk_mitigations": array of strings
- "summary": one paragraph

Transcript:
%s`

const layer5Prompt = `Compute advanced conversation metrics for this meeting.

Prior analysis:
%s

Return a JSON object with exactly these fields:
- "speaking_time": object mapping speaker name to fraction 0-1
- "talk_listen_ratio": number (host talk time divided by listen time)
- "blueprint": {"value_articulation": 0-100, "objection_handling": 0-100, "urgency": 0-100, "trust": 0-100, "close_attempts": 0-100, "composite": 0-100}
- "competitive_mentions": array of {"competitor", "context"}
- "deal": {"value": number, "currency", "contract_months": number}
- "budget_indicators": array of strings
- "technical_depth": 0-1
- "decision_dynamics": {"decision_maker_present": bool, "influencers": array of strings}
- "summary": one paragraph

Transcript:
%s`

const layer6Prompt = `Assess learning and knowledge transfer in this meeting.

Prior analysis:
%s

Return a JSON object with exactly these fields:
- "delta_s": 0-1 (skill/understanding shift observed)
- "delta_c": 0-1 (confidence shift observed)
- "w_e": 0-1 (engagement weight)
- "phi": 0-1 (misalignment between teaching and need; 0 = perfectly aligned)
- "learning_state": one of "exploring", "consolidating", "proficient", "plateaued", "regressing"
- "knowledge_transfer_rate": 0-1
- "teaching_effectiveness": 0-1
- "participant_indicators": object mapping participant name to {"engagement": 0-1, "comprehension": 0-1}
- "recommendations": {"pacing", "depth", "interaction"}
- "coaching_notes": array of strings
- "summary": one paragraph

Transcript:
%s`
