// Package bridge реализует аудио конференц-мост: реестр портов, граф
// передачи между ними и регулировку уровней.
//
// # Основные компоненты
//
//   - Bridge - реестр портов и граф передачи, цикл обработки кадров
//   - Port - медиа порт (источник и/или приемник кадров)
//   - AudioMedia - дескриптор зарегистрированного порта, встраиваемый
//     проигрывателем, рекордером, генератором тонов и звуковым устройством
//   - Clock - источник тактов цикла обработки
//
// # Граф передачи
//
// Ребро источник -> приемник создается вызовом Connect (StartTransmit) и
// удаляется Disconnect (StopTransmit). Несколько источников одного приемника
// смешиваются сложением. Порт может передавать сам себе: кадр, полученный от
// порта в текущем такте, возвращается ему в этом же такте после опроса всех
// источников, поэтому петля дает задержку ровно в один кадр.
//
//	b, err := bridge.New(bridge.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Close()
//
//	playerID, _ := b.Register(playerPort, bridge.KindPlayer, "greeting")
//	speakerID, _ := b.Register(speakerPort, bridge.KindSoundDevice, "speaker")
//	_ = b.Connect(playerID, speakerID)
//
// # Уровни
//
// Для каждого порта задаются два независимых коэффициента:
//
//   - TxLevelAdj применяется к сигналу порта-источника на каждом его ребре
//   - RxLevelAdj применяется к смешанному сигналу приемника один раз
//
// Значение 1.0 - без изменений, 0 - полная тишина, больше 1.0 - усиление.
// Переполнение обрезается до границ int16.
//
// # Потокобезопасность
//
// Изменения реестра и графа сериализуются мьютексом и публикуются как
// неизменяемый снимок графа через atomic.Pointer. Цикл обработки читает
// один снимок на кадр, поэтому никогда не видит наполовину измененный граф.
// Изменение вступает в силу не позднее начала следующего кадра.
package bridge
