package api

import "github.com/formation-gds/coursedesk/internal/services"

// Conversions between storage records and domain types. Missing optional
// fields from loosely-shaped producers get defaulted here.

func toServiceQuestion(q *Question) *services.Question {
	if q == nil {
		return nil
	}
	status := services.QuestionStatus(q.Status)
	if status == "" {
		status = services.StatusPending
	}
	return &services.Question{
		ID:                q.ID,
		DocID:             q.DocID,
		CourseID:          q.CourseID,
		QuestionText:      q.QuestionText,
		VariableUsed:      q.VariableUsed,
		ChapterNumber:     q.ChapterNumber,
		LessonNumber:      q.LessonNumber,
		Status:            status,
		DateSubmitted:     q.DateSubmitted,
		TimeSubmitted:     q.TimeSubmitted,
		Timestamp:         q.Timestamp,
		ApprovedAt:        q.ApprovedAt,
		ApprovedBy:        q.ApprovedBy,
		Answer:            q.Answer,
		AnsweredAt:        q.AnsweredAt,
		AnsweredBy:        q.AnsweredBy,
		TelegramMessageID: q.TelegramMessageID,
	}
}

func fromServiceQuestion(q *services.Question) *Question {
	if q == nil {
		return nil
	}
	return &Question{
		ID:                q.ID,
		DocID:             q.DocID,
		CourseID:          q.CourseID,
		QuestionText:      q.QuestionText,
		VariableUsed:      q.VariableUsed,
		ChapterNumber:     q.ChapterNumber,
		LessonNumber:      q.LessonNumber,
		Status:            string(q.Status),
		DateSubmitted:     q.DateSubmitted,
		TimeSubmitted:     q.TimeSubmitted,
		Timestamp:         q.Timestamp,
		ApprovedAt:        q.ApprovedAt,
		ApprovedBy:        q.ApprovedBy,
		Answer:            q.Answer,
		AnsweredAt:        q.AnsweredAt,
		AnsweredBy:        q.AnsweredBy,
		TelegramMessageID: q.TelegramMessageID,
	}
}

func toServiceQuestions(in []*Question) []*services.Question {
	out := make([]*services.Question, 0, len(in))
	for _, q := range in {
		out = append(out, toServiceQuestion(q))
	}
	return out
}

func toServiceCourse(c *Course) *services.Course {
	if c == nil {
		return nil
	}
	structure := services.CourseStructure{}
	for key, ch := range c.Structure {
		lessons := ch.Lessons
		if lessons == nil {
			lessons = map[string]string{}
		}
		structure[key] = services.Chapter{Title: ch.Title, Lessons: lessons}
	}
	instructors := c.InstructorIDs
	if instructors == nil {
		instructors = []string{}
	}
	return &services.Course{
		CourseID:          c.CourseID,
		CourseName:        c.CourseName,
		Structure:         structure,
		InstructorIDs:     instructors,
		TelegramBotToken:  c.TelegramBotToken,
		TelegramChannelID: c.TelegramChannelID,
		Active:            c.Active,
		AutoCreated:       c.AutoCreated,
		CreatedAt:         c.CreatedAt,
	}
}

func fromServiceCourse(c *services.Course) *Course {
	if c == nil {
		return nil
	}
	structure := map[string]Chapter{}
	for key, ch := range c.Structure {
		structure[key] = Chapter{Title: ch.Title, Lessons: ch.Lessons}
	}
	return &Course{
		CourseID:          c.CourseID,
		CourseName:        c.CourseName,
		Structure:         structure,
		InstructorIDs:     c.InstructorIDs,
		TelegramBotToken:  c.TelegramBotToken,
		TelegramChannelID: c.TelegramChannelID,
		Active:            c.Active,
		AutoCreated:       c.AutoCreated,
		CreatedAt:         c.CreatedAt,
	}
}

func toServiceUser(u *User) *services.User {
	if u == nil {
		return nil
	}
	assigned := u.AssignedCourses
	if assigned == nil {
		assigned = []string{}
	}
	role := services.Role(u.Role)
	if role == "" {
		role = services.RoleInstructor
	}
	return &services.User{
		UID:             u.UID,
		Email:           u.Email,
		DisplayName:     u.DisplayName,
		PhotoURL:        u.PhotoURL,
		Role:            role,
		AssignedCourses: assigned,
		Active:          u.Active,
		CreatedAt:       u.CreatedAt,
		LastLoginAt:     u.LastLoginAt,
	}
}

func fromServiceUser(u *services.User) *User {
	if u == nil {
		return nil
	}
	return &User{
		UID:             u.UID,
		Email:           u.Email,
		DisplayName:     u.DisplayName,
		PhotoURL:        u.PhotoURL,
		Role:            string(u.Role),
		AssignedCourses: u.AssignedCourses,
		Active:          u.Active,
		CreatedAt:       u.CreatedAt,
		LastLoginAt:     u.LastLoginAt,
	}
}

func toServiceAudit(e services.AuditEntry) AuditEntry {
	return AuditEntry{Time: e.Time, Actor: e.Actor, Action: e.Action, Target: e.Target, Note: e.Note}
}
