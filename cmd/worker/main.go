package main

import (
	"context"
	"log"
	"os"

	firebase "firebase.google.com/go/v4"
	"github.com/hibiken/asynq"

	"stylistapi/dbhelper"
	"stylistapi/services"
	"stylistapi/tasks"
)

func runScheduler() {

	scheduler := asynq.NewScheduler(asynq.RedisClientOpt{Addr: os.Getenv("ASYNC_BROKER_ADDRESS")}, &asynq.SchedulerOpts{
		LogLevel: asynq.InfoLevel,
	})

	scheduled := []struct {
		cron string
		task *asynq.Task
		desc string
	}{
		{
			cron: "0 3 * * *", // nightly
			task: tasks.NewAccountCleanupTask(),
			desc: "Deleted account cleanup",
		},
	}

	for _, t := range scheduled {
		entryID, err := scheduler.Register(t.cron, t.task)
		if err != nil {
			log.Fatalf("Failed to register task '%s': %v", t.desc, err)
		}
		log.Printf("Registered task '%s' with ID: %s, cron: %s", t.desc, entryID, t.cron)
	}

	log.Println("Starting scheduler...")
	if err := scheduler.Run(); err != nil {
		log.Fatalf("Scheduler failed: %v", err)
	}
}

func main() {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: os.Getenv("ASYNC_BROKER_ADDRESS")},
		asynq.Config{Concurrency: 10, Queues: map[string]int{
			"generate": 7,
		}},
	)
	awsService := &services.AWSService{}
	gateway := &services.RecommendationGateway{Vision: services.GeminiVisionProvider{Model: services.Flash25}}
	err := awsService.InitPresignClient(context.Background())
	if err != nil {
		log.Fatal("[Queue] Failed to initialize AWS provider: S3")
	}
	app, err := firebase.NewApp(context.Background(), nil)
	if err != nil {
		log.Fatalf("error initializing firebase app: %v\n", err)
		return
	}
	mux := asynq.NewServeMux()
	db := dbhelper.SetupDB()
	mux.HandleFunc(tasks.TypeWardrobeAnalyze, func(ctx context.Context, t *asynq.Task) error {
		return tasks.HandleWardrobeAnalyzeTask(ctx, t, db, gateway, awsService, app)
	})
	mux.HandleFunc(tasks.TypeAccountCleanup, func(ctx context.Context, t *asynq.Task) error {
		return tasks.HandleAccountCleanupTask(ctx, t, db)
	})

	go runScheduler()
	if err := srv.Run(mux); err != nil {
		log.Fatal(err)
	}
}
